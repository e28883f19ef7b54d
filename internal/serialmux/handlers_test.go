package serialmux

import (
	"testing"

	"github.com/banshee-data/respire.report/internal/breath"
)

func TestDispatcher_RoutesFrames(t *testing.T) {
	var frames []breath.Frame
	d := &Dispatcher{
		Parser:  breath.NewReportParser(),
		OnFrame: func(f breath.Frame) { frames = append(frames, f) },
	}

	d.HandleEvent("== Basic Report == index:1, timestamp:500")
	d.HandleEvent("IQ: ch:0:1.0,2.0,3.0,4.0;")
	if len(frames) != 0 {
		t.Fatal("frame completed before the next header arrived")
	}

	d.HandleEvent("== Basic Report == index:2, timestamp:1000")
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if frames[0].Index != 1 {
		t.Errorf("Index = %d, want 1", frames[0].Index)
	}

	d.HandleEvent("IQ: ch:5:1.0,1.0,1.0,1.0;")
	d.Flush()
	if len(frames) != 2 {
		t.Fatalf("frames after Flush = %d, want 2", len(frames))
	}
	if frames[1].Index != 2 {
		t.Errorf("Index = %d, want 2", frames[1].Index)
	}
}

func TestDispatcher_RoutesResponses(t *testing.T) {
	var responses []CommandResponse
	d := &Dispatcher{
		Parser:     breath.NewReportParser(),
		OnResponse: func(r CommandResponse) { responses = append(responses, r) },
	}

	d.HandleEvent("$OK,BLE_CONN,mac=AA:BB:CC:DD:EE:FF")
	if len(responses) != 1 {
		t.Fatalf("responses = %d, want 1", len(responses))
	}
	if !responses[0].OK || responses[0].Command != "BLE_CONN" {
		t.Errorf("response = %+v", responses[0])
	}

	last := LastResponse()
	if last == nil || last.Command != "BLE_CONN" {
		t.Errorf("LastResponse() = %+v", last)
	}
}

func TestDispatcher_IgnoresChatter(t *testing.T) {
	d := &Dispatcher{
		Parser:  breath.NewReportParser(),
		OnFrame: func(breath.Frame) { t.Error("chatter produced a frame") },
	}
	d.HandleEvent("booting radio v2.1")
	d.HandleEvent("")
	d.Flush()
}
