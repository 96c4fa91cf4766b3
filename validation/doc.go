// Package validation validates manifests, configuration and graphs, and
// reports failures as ExecutionError values.
//
// It supports struct tag validation (go-playground/validator) with two
// domain tags, and programmatic collection of field errors.
//
// # Struct Tag Validation
//
//	type Manifest struct {
//	    ID           string   `validate:"required"`
//	    Capabilities []string `validate:"dive,capability"`
//	    Type         value.Kind `validate:"portkind"`
//	}
//	err := validation.Validate(m)
//
// # Programmatic Validation
//
//	v := validation.New()
//	v.Check(len(nodes) > 0, "nodes", "graph has no nodes")
//	err := v.Error(errors.CategoryStructural)
package validation
