package model

import "testing"

func TestFormatOf(t *testing.T) {
	cases := map[string]string{
		"/data/call.WAV":   "wav",
		"notes.txt":        "txt",
		"archive.tar.m4a":  "m4a",
		"no-extension":     "",
		"/tmp/dir.d/x.mp3": "mp3",
	}
	for in, want := range cases {
		if got := FormatOf(in); got != want {
			t.Fatalf("FormatOf(%q)=%q want %q", in, got, want)
		}
	}
}

func TestJobIsText(t *testing.T) {
	if !(Job{Format: "TXT"}).IsText() {
		t.Fatalf("txt should be text")
	}
	if (Job{Format: "wav"}).IsText() {
		t.Fatalf("wav should not be text")
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusAnalyzing, StatusCompleted, StatusFailed} {
		if !s.Valid() {
			t.Fatalf("%s should be valid", s)
		}
	}
	if Status("DONE").Valid() {
		t.Fatalf("unknown status accepted")
	}
}

func TestSupportedFormat(t *testing.T) {
	for _, f := range []string{"wav", "MP3", "m4a", "txt"} {
		if !SupportedFormat(f) {
			t.Fatalf("%s should be supported", f)
		}
	}
	for _, f := range []string{"", "pdf", "docx"} {
		if SupportedFormat(f) {
			t.Fatalf("%q should be rejected", f)
		}
	}
}
