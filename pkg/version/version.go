// Package version reports the build version of the GoRelay binaries.
//
// Release builds inject it via ldflags:
//
//	go build -ldflags "-X github.com/NicolasHaas/gorelay/pkg/version.tag=v1.0.0
//	  -X github.com/NicolasHaas/gorelay/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/gorelay/pkg/version.date=2026-01-01"
//
// Without ldflags the VCS stamp recorded by the Go toolchain is used.
package version

import (
	"runtime/debug"
	"sync"
)

var (
	tag    = "" // git tag, e.g. "v0.2.0"
	commit = "" // short commit SHA
	date   = "" // build date, ISO 8601
)

// Info describes one build.
type Info struct {
	Tag      string
	Commit   string
	Date     string
	Modified bool // built from a dirty tree
}

var loadOnce sync.Once
var info Info

// Get returns the build info, filling gaps from runtime/debug.
func Get() Info {
	loadOnce.Do(func() {
		info = Info{Tag: tag, Commit: commit, Date: date}
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		fillFromBuildInfo(&info, bi)
	})
	return info
}

func fillFromBuildInfo(in *Info, bi *debug.BuildInfo) {
	if in.Tag == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		in.Tag = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if in.Commit == "" {
				in.Commit = s.Value
				if len(in.Commit) > 7 {
					in.Commit = in.Commit[:7]
				}
			}
		case "vcs.time":
			if in.Date == "" {
				in.Date = s.Value
			}
		case "vcs.modified":
			in.Modified = s.Value == "true"
		}
	}
}

// String returns a short version: the tag, else the commit, else "dev".
func String() string {
	return Get().short()
}

func (i Info) short() string {
	switch {
	case i.Tag != "":
		return i.Tag
	case i.Commit != "":
		if i.Modified {
			return i.Commit + "-dirty"
		}
		return i.Commit
	default:
		return "dev"
	}
}

// Full returns "tag (commit) built date" or a shorter fallback.
func Full() string {
	return Get().full()
}

func (i Info) full() string {
	s := i.short()
	if i.Tag != "" && i.Commit != "" {
		s += " (" + i.Commit + ")"
	}
	if i.Date != "" && s != "dev" {
		s += " built " + i.Date
	}
	return s
}
