package processors

import "github.com/randalmurphal/streamsync/pkg/streamsync/flowdef"

// RegisterAll adds every built-in processor type to types, keyed by the
// processor's Name. It fails on the first duplicate.
func RegisterAll(types *flowdef.Types) error {
	for _, f := range []flowdef.Factory{
		NewGenerateFlowFile,
		NewConvertTemperature,
		NewStatistics,
		NewGetDaytime,
		NewLookupDefinition,
		NewLogAttribute,
		NewRouteOnAttribute,
	} {
		if err := types.Register(f().Name(), f); err != nil {
			return err
		}
	}
	return nil
}
