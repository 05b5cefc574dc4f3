// Package flowdef builds flow graphs from YAML or JSON definitions.
//
// Processor types are resolved through a Types registry, so a definition
// only names types the host has registered:
//
//	types := flowdef.NewTypes()
//	if err := processors.RegisterAll(types); err != nil {
//	    return err
//	}
//
//	flow, err := flowdef.LoadFile("flow.yaml", types)
//	if err != nil {
//	    return err
//	}
//	s := streamsync.NewScheduler(flow.Graph, flow.Options...)
//
// Properties are passed to processors as strings. Numeric and boolean YAML
// values are formatted, so "batch.size: 5" arrives as "5".
package flowdef
