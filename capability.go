package weft

import (
	"fmt"
	"sync"
)

// A Capability names one optional provider feature.
type Capability string

// The probed capabilities.
const (
	CapSemanticSearch  Capability = "semanticSearch"
	CapEvents          Capability = "events"
	CapActions         Capability = "actions"
	CapArtifacts       Capability = "artifacts"
	CapBatchOperations Capability = "batchOperations"
)

// Capabilities is the detected optional-feature surface of one provider.
type Capabilities struct {
	SemanticSearch  bool
	Events          bool
	Actions         bool
	Artifacts       bool
	BatchOperations bool
}

// Has reports whether the named capability is supported.
func (c Capabilities) Has(cap Capability) bool {
	switch cap {
	case CapSemanticSearch:
		return c.SemanticSearch
	case CapEvents:
		return c.Events
	case CapActions:
		return c.Actions
	case CapArtifacts:
		return c.Artifacts
	case CapBatchOperations:
		return c.BatchOperations
	}
	return false
}

// Require returns a *CapabilityError when the named capability is not
// supported. It is the single gate used before any optional-feature call.
func (c Capabilities) Require(cap Capability, message string) error {
	if c.Has(cap) {
		return nil
	}
	if message == "" {
		message = fmt.Sprintf("provider does not support %s", cap)
	}
	return NewCapabilityError(cap, message, alternativeFor(cap))
}

func alternativeFor(cap Capability) string {
	switch cap {
	case CapSemanticSearch:
		return "plain text search via Search"
	case CapBatchOperations:
		return "per-record Create/Delete calls"
	}
	return ""
}

// capCache memoizes detection per provider identity. The map holds a strong
// reference to each probed provider, so an entry keeps its provider alive
// until ClearCapabilityCache (Runtime.Close calls it for the runtime's
// provider). Short-lived providers must be cleared explicitly.
var capCache sync.Map // Provider -> Capabilities

// Detect probes the provider's method surface for optional capabilities.
// Detection is structural (interface assertions), never behavioral: no
// provider method is called. The result is memoized by provider identity.
func Detect(p Provider) Capabilities {
	if v, ok := capCache.Load(p); ok {
		return v.(Capabilities)
	}
	caps := probe(p)
	capCache.Store(p, caps)
	return caps
}

func probe(p Provider) Capabilities {
	var caps Capabilities
	_, caps.SemanticSearch = p.(SemanticSearcher)
	_, caps.Events = p.(EventProvider)
	_, caps.Actions = p.(ActionProvider)
	_, caps.Artifacts = p.(ArtifactProvider)
	_, caps.BatchOperations = p.(BatchProvider)
	return caps
}

// ClearCapabilityCache drops the cached detection for the provider. The
// owner must call it after any mutation that changes the provider's method
// surface; capabilities are not watched automatically.
func ClearCapabilityCache(p Provider) {
	capCache.Delete(p)
}
