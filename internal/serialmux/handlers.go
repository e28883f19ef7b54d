package serialmux

import (
	"log"
	"sync"

	"github.com/banshee-data/respire.report/internal/breath"
)

var (
	lastResponseMu sync.Mutex
	lastResponse   *CommandResponse
)

// LastResponse returns the most recent command acknowledgement received from
// the radio, or nil before the first one. Admin routes and tests inspect it.
func LastResponse() *CommandResponse {
	lastResponseMu.Lock()
	defer lastResponseMu.Unlock()
	if lastResponse == nil {
		return nil
	}
	resp := *lastResponse
	return &resp
}

func setLastResponse(resp CommandResponse) {
	lastResponseMu.Lock()
	lastResponse = &resp
	lastResponseMu.Unlock()
}

// Dispatcher routes classified radio lines. Report headers and IQ lines feed
// the frame parser; a completed frame goes to OnFrame. Acknowledgement lines
// are recorded and passed to OnResponse. Anything else is firmware chatter
// and is logged at most.
type Dispatcher struct {
	Parser     *breath.ReportParser
	OnFrame    func(breath.Frame)
	OnResponse func(CommandResponse)

	// LogUnknown controls whether unclassified lines are logged.
	LogUnknown bool
}

// HandleEvent processes one line from the serial port.
func (d *Dispatcher) HandleEvent(payload string) {
	switch ClassifyPayload(payload) {
	case EventTypeReportHeader, EventTypeIQData:
		if frame := d.Parser.ParseLine(payload); frame != nil && d.OnFrame != nil {
			d.OnFrame(*frame)
		}
	case EventTypeResponse:
		resp, ok := ParseResponse(payload)
		if !ok {
			return
		}
		if !resp.OK {
			log.Printf("radio rejected command %s: %s", resp.Command, resp.Raw)
		}
		setLastResponse(resp)
		if d.OnResponse != nil {
			d.OnResponse(resp)
		}
	default:
		if d.LogUnknown {
			log.Printf("unclassified radio line: %s", payload)
		}
	}
}

// Flush completes any partially assembled frame, typically on stream close.
func (d *Dispatcher) Flush() {
	if frame := d.Parser.Flush(); frame != nil && d.OnFrame != nil {
		d.OnFrame(*frame)
	}
}
