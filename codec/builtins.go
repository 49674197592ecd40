package codec

// RegisterBuiltins registers the full built-in parser, encoder and
// transform set described by spec.md section 4.1's type table onto r.
// It is invoked once at package init for codec.Default and may be
// called again for a freshly constructed Registry, resolving the
// "initialization order must be deterministic" open question from
// spec.md section 9 by fixing a single call site that registers
// everything in table order.
func RegisterBuiltins(r *Registry) {
	registerBufferCodec(r)
	registerStreamCodec(r)
	registerTextCodec(r)
	registerJSONCodec(r)
	registerTOMLCodec(r)
	registerYAMLCodec(r)
	registerCSVCodec(r)
	registerURLFormCodec(r)
	registerMultipartCodec(r)
	registerMessageCodec(r)
	registerEventStreamCodec(r)

	registerTransforms(r)
}
