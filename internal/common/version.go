package common

// Version information, overridable at build time via ldflags:
//
//	-ldflags "-X github.com/porticolabs/portico/internal/common.Version=1.2.3"
var (
	Version   = "dev"
	BuildTime = "unknown"
)
