package serialmux

import "testing"

func TestClassifyPayload(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{"== Basic Report == index:4, timestamp:2000", EventTypeReportHeader},
		{"  == Basic Report == index:4, timestamp:2000", EventTypeReportHeader},
		{"IQ: ch:0:1.0,2.0,3.0,4.0;", EventTypeIQData},
		{"$OK,PING", EventTypeResponse},
		{"$ERR,DF_START,reason=busy", EventTypeResponse},
		{"booting radio v2.1", EventTypeUnknown},
		{"", EventTypeUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyPayload(tt.payload); got != tt.want {
			t.Errorf("ClassifyPayload(%q) = %q, want %q", tt.payload, got, tt.want)
		}
	}
}

func TestParseResponse_OK(t *testing.T) {
	resp, ok := ParseResponse("$OK,PING,version=1.2,uptime=40")
	if !ok {
		t.Fatal("ParseResponse() returned !ok for a valid line")
	}
	if !resp.OK {
		t.Error("OK = false, want true")
	}
	if resp.Command != "PING" {
		t.Errorf("Command = %q, want %q", resp.Command, "PING")
	}
	if resp.Fields["version"] != "1.2" || resp.Fields["uptime"] != "40" {
		t.Errorf("Fields = %v", resp.Fields)
	}
}

func TestParseResponse_Err(t *testing.T) {
	resp, ok := ParseResponse("$ERR,DF_START,reason=busy")
	if !ok {
		t.Fatal("ParseResponse() returned !ok for a valid line")
	}
	if resp.OK {
		t.Error("OK = true, want false")
	}
	if resp.Command != "DF_START" {
		t.Errorf("Command = %q, want %q", resp.Command, "DF_START")
	}
	if resp.Fields["reason"] != "busy" {
		t.Errorf("Fields = %v", resp.Fields)
	}
}

func TestParseResponse_BareAck(t *testing.T) {
	for _, line := range []string{"$OK", "$ERR"} {
		resp, ok := ParseResponse(line)
		if !ok {
			t.Fatalf("ParseResponse(%q) returned !ok for a bare ack", line)
		}
		if resp.Command != "" || resp.Fields != nil {
			t.Errorf("ParseResponse(%q) = %+v, want empty command and fields", line, resp)
		}
		if want := line == "$OK"; resp.OK != want {
			t.Errorf("ParseResponse(%q).OK = %v, want %v", line, resp.OK, want)
		}
	}
}

func TestParseResponse_NotAResponse(t *testing.T) {
	if _, ok := ParseResponse("IQ: ch:0:1,2,3,4;"); ok {
		t.Error("ParseResponse() should reject non-acknowledgement lines")
	}
}
