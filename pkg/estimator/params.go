package estimator

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrParameter is the sentinel behind every ParameterError.
var ErrParameter = errors.New("invalid estimator parameter")

// ParameterError reports a missing or ill-typed estimator parameter.
type ParameterError struct {
	Kind   string
	Key    string
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("%s: parameter %q %s", e.Kind, e.Key, e.Reason)
}

func (e *ParameterError) Unwrap() error { return ErrParameter }

func lookup(est Estimator, key string) (any, error) {
	v, ok := est.Parameters()[key]
	if !ok || v == nil {
		return nil, &ParameterError{Kind: est.Kind(), Key: key, Reason: "is missing"}
	}
	return v, nil
}

// Has reports whether est carries a non-nil parameter called key.
func Has(est Estimator, key string) bool {
	v, ok := est.Parameters()[key]
	return ok && v != nil
}

// Float64 reads a scalar parameter.
func Float64(est Estimator, key string) (float64, error) {
	v, err := lookup(est, key)
	if err != nil {
		return 0, err
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, &ParameterError{Kind: est.Kind(), Key: key, Reason: fmt.Sprintf("is %T, not a number", v)}
	}
	return f, nil
}

// Float64s reads a vector parameter.
func Float64s(est Estimator, key string) ([]float64, error) {
	v, err := lookup(est, key)
	if err != nil {
		return nil, err
	}
	out, ok := toFloats(v)
	if !ok {
		return nil, &ParameterError{Kind: est.Kind(), Key: key, Reason: fmt.Sprintf("is %T, not a numeric list", v)}
	}
	return out, nil
}

// Int64s reads an integer vector parameter.
func Int64s(est Estimator, key string) ([]int64, error) {
	v, err := lookup(est, key)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case []int64:
		return append([]int64(nil), t...), nil
	case []int:
		out := make([]int64, len(t))
		for i, x := range t {
			out[i] = int64(x)
		}
		return out, nil
	}
	fs, ok := toFloats(v)
	if !ok {
		return nil, &ParameterError{Kind: est.Kind(), Key: key, Reason: fmt.Sprintf("is %T, not an integer list", v)}
	}
	out := make([]int64, len(fs))
	for i, f := range fs {
		if f != float64(int64(f)) {
			return nil, &ParameterError{Kind: est.Kind(), Key: key, Reason: fmt.Sprintf("element %d (%v) is not an integer", i, f)}
		}
		out[i] = int64(f)
	}
	return out, nil
}

// Matrix reads a rectangular matrix parameter.
func Matrix(est Estimator, key string) (*mat.Dense, error) {
	v, err := lookup(est, key)
	if err != nil {
		return nil, err
	}
	bad := func(reason string) error {
		return &ParameterError{Kind: est.Kind(), Key: key, Reason: reason}
	}
	switch t := v.(type) {
	case *mat.Dense:
		return mat.DenseCopyOf(t), nil
	case [][]float64:
		return denseFromRows(t, bad)
	case []any:
		rows := make([][]float64, len(t))
		for i, r := range t {
			fs, ok := toFloats(r)
			if !ok {
				return nil, bad(fmt.Sprintf("row %d is %T, not a numeric list", i, r))
			}
			rows[i] = fs
		}
		return denseFromRows(rows, bad)
	}
	return nil, bad(fmt.Sprintf("is %T, not a matrix", v))
}

// String reads a string parameter.
func String(est Estimator, key string) (string, error) {
	v, err := lookup(est, key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", &ParameterError{Kind: est.Kind(), Key: key, Reason: fmt.Sprintf("is %T, not a string", v)}
	}
	return s, nil
}

// StringOr reads an optional string parameter.
func StringOr(est Estimator, key, defaultVal string) (string, error) {
	if !Has(est, key) {
		return defaultVal, nil
	}
	return String(est, key)
}

func denseFromRows(rows [][]float64, bad func(string) error) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, bad("is empty")
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, bad(fmt.Sprintf("row %d has %d columns, want %d", i, len(r), cols))
		}
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), cols, data), nil
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case uint64:
		return float64(t), true
	}
	return 0, false
}

func toFloats(v any) ([]float64, bool) {
	switch t := v.(type) {
	case []float64:
		return append([]float64(nil), t...), true
	case []float32:
		out := make([]float64, len(t))
		for i, x := range t {
			out[i] = float64(x)
		}
		return out, true
	case []int64:
		out := make([]float64, len(t))
		for i, x := range t {
			out[i] = float64(x)
		}
		return out, true
	case []any:
		out := make([]float64, len(t))
		for i, x := range t {
			f, ok := toFloat(x)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	}
	return nil, false
}
