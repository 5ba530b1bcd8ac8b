package provider

import "context"

// Named presents inner under a different identity. Results always carry the
// outer name, so a backend that delegates to a shared implementation is
// still reported as itself.
type Named struct {
	name  string
	inner Provider
}

// NewNamed wraps inner as name.
func NewNamed(name string, inner Provider) *Named {
	return &Named{name: name, inner: inner}
}

// Name returns the wrapper's identity.
func (n *Named) Name() string { return n.name }

// Generate delegates and rewrites ProviderName.
func (n *Named) Generate(ctx context.Context, req *Request) (*Result, error) {
	res, err := n.inner.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	out := *res
	out.ProviderName = n.name
	return &out, nil
}

// Embed delegates unchanged.
func (n *Named) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	return n.inner.Embed(ctx, texts, model)
}
