package version

import (
	"runtime/debug"
	"testing"
)

func TestInfoStrings(t *testing.T) {
	tests := []struct {
		info  Info
		short string
		full  string
	}{
		{Info{}, "dev", "dev"},
		{Info{Commit: "abc1234"}, "abc1234", "abc1234"},
		{Info{Commit: "abc1234", Modified: true, Date: "2026-01-01"}, "abc1234-dirty", "abc1234-dirty built 2026-01-01"},
		{Info{Tag: "v1.0.0", Commit: "abc1234", Date: "2026-01-01"}, "v1.0.0", "v1.0.0 (abc1234) built 2026-01-01"},
	}
	for _, tt := range tests {
		if got := tt.info.short(); got != tt.short {
			t.Errorf("%+v short = %q, want %q", tt.info, got, tt.short)
		}
		if got := tt.info.full(); got != tt.full {
			t.Errorf("%+v full = %q, want %q", tt.info, got, tt.full)
		}
	}
}

func TestFillFromBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2026-03-04T05:06:07Z"},
			{Key: "vcs.modified", Value: "false"},
		},
	}
	var in Info
	fillFromBuildInfo(&in, bi)
	want := Info{Commit: "0123456", Date: "2026-03-04T05:06:07Z"}
	if in != want {
		t.Fatalf("got %+v, want %+v", in, want)
	}

	// ldflags values win.
	in = Info{Tag: "v2.0.0", Commit: "feedbee"}
	bi.Main.Version = "v1.9.0"
	fillFromBuildInfo(&in, bi)
	if in.Tag != "v2.0.0" || in.Commit != "feedbee" {
		t.Fatalf("ldflags values overwritten: %+v", in)
	}
}
