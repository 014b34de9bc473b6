package adapters

import (
	"fmt"
	"strings"

	"github.com/admesh/adcp-sales-agent/internal/auth"
)

// Kind identifies one of the supported backend integrations. A closed sum
// replaces string-keyed class lookup while keeping "pick one of N backends"
// semantics.
type Kind int

const (
	KindMock Kind = iota
	KindGAM
	KindKevel
	KindTriton
	KindXandr
)

func (k Kind) String() string {
	switch k {
	case KindMock:
		return "mock"
	case KindGAM:
		return "gam"
	case KindKevel:
		return "kevel"
	case KindTriton:
		return "triton"
	case KindXandr:
		return "xandr"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a lowercase adapter-type string to its Kind.
// "creative_engine" is served by the mock integration.
func ParseKind(adapterType string) (Kind, error) {
	switch strings.ToLower(adapterType) {
	case "mock", "creative_engine":
		return KindMock, nil
	case "gam", "google_ad_manager":
		return KindGAM, nil
	case "kevel":
		return KindKevel, nil
	case "triton", "triton_digital":
		return KindTriton, nil
	case "xandr":
		return KindXandr, nil
	default:
		return 0, fmt.Errorf("unrecognized adapter type: %q", adapterType)
	}
}

// New constructs the adapter for a kind. Construction is the one place a
// missing-credential error may surface as a plain error: it is a startup
// (configuration) failure, not a request-time one.
func New(kind Kind, cfg Config, principal *auth.Principal, deps Deps) (Adapter, error) {
	switch kind {
	case KindMock:
		return NewMockAdapter(cfg, principal, deps), nil
	case KindGAM:
		return NewGAMAdapter(cfg, principal, deps)
	case KindKevel:
		return NewKevelAdapter(cfg, principal, deps)
	case KindTriton:
		return NewTritonAdapter(cfg, principal, deps)
	case KindXandr:
		return NewXandrAdapter(cfg, principal, deps)
	default:
		return nil, fmt.Errorf("unrecognized adapter kind: %v", kind)
	}
}
