package logging

import "flag"

// Flags holds the logging-related command-line flags shared by every
// binary in cmd/.
type Flags struct {
	Level      string
	Format     string
	File       string
	DebugSTUN  bool
	DebugDTLS  bool
	DebugSRTP  bool
	DebugRTP   bool
	DebugRTCP  bool
	DebugSDP   bool
	DebugAll   bool
}

// RegisterFlags registers the logging flags on fs and returns the Flags
// they populate.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.Level, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&f.Format, "log-format", "text", "Log output format: text, json")
	fs.StringVar(&f.File, "log-file", "", "Log output file path (default: stdout)")

	fs.BoolVar(&f.DebugSTUN, "debug-stun", false, "Enable STUN binding request/response debugging")
	fs.BoolVar(&f.DebugDTLS, "debug-dtls", false, "Enable DTLS handshake debugging")
	fs.BoolVar(&f.DebugSRTP, "debug-srtp", false, "Enable SRTP/SRTCP protect/unprotect debugging")
	fs.BoolVar(&f.DebugRTP, "debug-rtp", false, "Enable per-packet RTP debugging")
	fs.BoolVar(&f.DebugRTCP, "debug-rtcp", false, "Enable RTCP report/NACK debugging")
	fs.BoolVar(&f.DebugSDP, "debug-sdp", false, "Enable SDP offer/answer debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false, "Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logging Config.
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.Level)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.Format)
	if err != nil {
		return nil, err
	}
	cfg.Format = format
	cfg.OutputFile = f.File

	if f.DebugAll {
		cfg.EnableCategory(CategoryAll)
	}
	if f.DebugSTUN {
		cfg.EnableCategory(CategorySTUN)
	}
	if f.DebugDTLS {
		cfg.EnableCategory(CategoryDTLS)
	}
	if f.DebugSRTP {
		cfg.EnableCategory(CategorySRTP)
	}
	if f.DebugRTP {
		cfg.EnableCategory(CategoryRTP)
	}
	if f.DebugRTCP {
		cfg.EnableCategory(CategoryRTCP)
	}
	if f.DebugSDP {
		cfg.EnableCategory(CategorySDP)
	}

	return cfg, nil
}
