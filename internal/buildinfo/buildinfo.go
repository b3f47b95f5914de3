// Package buildinfo derives the pipeline's version tag from Go build
// metadata, so release builds need no ldflags wiring.
package buildinfo

import "runtime/debug"

// AuditorTag is the provenance stamp written to every record's
// versao_auditor column and every run's versao_miner column. Rows in
// Supabase can always be traced back to the build that wrote them.
func AuditorTag() string {
	return "auditor/" + Version()
}

// Version resolves to the module version for tagged installs and to a
// commit pseudo-version ("dev-<hash>", with a "-dirty" suffix when the
// tree had uncommitted changes) for source builds.
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	return devVersion(info)
}

func devVersion(info *debug.BuildInfo) string {
	var rev string
	dirty := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return "dev"
	}
	if len(rev) > 12 {
		rev = rev[:12] // git short-hash length
	}
	if dirty {
		return "dev-" + rev + "-dirty"
	}
	return "dev-" + rev
}
