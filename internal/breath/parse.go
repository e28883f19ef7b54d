package breath

import (
	"math"
	"regexp"
	"strconv"
)

// Report wire format, one line at a time:
//
//	== Basic Report == index:12, timestamp:34567
//	IQ: ch:0:12.0,-3.5,8.1,2.2;ch:1:...;
//
// A header line opens a new frame (completing any in-flight one); IQ lines
// accumulate per-channel quads until the next header arrives.

var (
	ansiEscape    = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)
	reBasicReport = regexp.MustCompile(`== Basic Report == index:(\d+), timestamp:(\d+)`)

	numPattern = `[+-]?(?:\d+(?:\.\d+)?|nan|inf|-inf)`
	reIQPrefix = regexp.MustCompile(`\bIQ:\s*(.*)`)
	reIQTokens = regexp.MustCompile(`ch:(\d+):(` + numPattern + `),(` + numPattern + `),(` + numPattern + `),(` + numPattern + `);`)
)

// ReportParser assembles report lines from the serial stream into Frames.
// It is not safe for concurrent use; feed it from a single reader goroutine.
type ReportParser struct {
	index       int64
	timestampMS int64
	quads       map[ChannelID][4]float64
	open        bool
}

// NewReportParser returns a parser with no frame in flight.
func NewReportParser() *ReportParser {
	return &ReportParser{}
}

func parseNum(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// ParseLine consumes one line from the radio. It returns a completed Frame
// when the line starts a new report and a previous one was in flight, nil
// otherwise. Lines that are neither headers nor IQ data (command responses,
// boot chatter) are ignored.
func (p *ReportParser) ParseLine(line string) *Frame {
	clean := ansiEscape.ReplaceAllString(line, "")

	if m := reBasicReport.FindStringSubmatch(clean); m != nil {
		done := p.Flush()
		p.index, _ = strconv.ParseInt(m[1], 10, 64)
		p.timestampMS, _ = strconv.ParseInt(m[2], 10, 64)
		p.quads = make(map[ChannelID][4]float64)
		p.open = true
		return done
	}

	if !p.open {
		return nil
	}

	payload := ""
	if m := reIQPrefix.FindStringSubmatch(clean); m != nil {
		payload = m[1]
	} else if reIQTokens.MatchString(clean) {
		payload = clean
	}
	if payload == "" {
		return nil
	}

	for _, tok := range reIQTokens.FindAllStringSubmatch(payload, -1) {
		ch, err := strconv.Atoi(tok[1])
		if err != nil {
			continue
		}
		p.quads[ChannelID(ch)] = [4]float64{
			parseNum(tok[2]), parseNum(tok[3]), parseNum(tok[4]), parseNum(tok[5]),
		}
	}
	return nil
}

// Flush completes and returns the in-flight frame, or nil if there is none
// or it carried no usable IQ data. NaN quads and all-zero quads (channels
// the device reported but did not measure) are dropped.
func (p *ReportParser) Flush() *Frame {
	if !p.open {
		return nil
	}
	p.open = false

	frame := &Frame{
		Index:       p.index,
		TimestampMS: p.timestampMS,
		Channels:    make(map[ChannelID]ChannelSample, len(p.quads)),
	}
	for ch, quad := range p.quads {
		il, ql, ir, qr := quad[0], quad[1], quad[2], quad[3]
		if math.IsNaN(il) || math.IsNaN(ql) || math.IsNaN(ir) || math.IsNaN(qr) {
			continue
		}
		if math.Abs(il) < 1e-6 && math.Abs(ql) < 1e-6 && math.Abs(ir) < 1e-6 && math.Abs(qr) < 1e-6 {
			continue
		}
		frame.Channels[ch] = NewChannelSample(il, ql, ir, qr)
	}
	p.quads = nil

	if len(frame.Channels) == 0 {
		return nil
	}
	return frame
}
