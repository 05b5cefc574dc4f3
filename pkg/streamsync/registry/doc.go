// Package registry provides a generic thread-safe registry for values indexed
// by key. Keys are write-once.
//
// The streamsync flow loader uses it to map processor type names to
// constructors:
//
//	types := registry.New[string, flowdef.Factory]()
//	types.MustRegister("ConvertTemperature", processors.NewConvertTemperature)
//
//	factory, err := types.Lookup("ConvertTemperature")
//	if err != nil {
//	    return err // lists the registered types
//	}
//	p := factory()
package registry
