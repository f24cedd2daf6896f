package trainer

import (
	"bytes"
	"fmt"

	"github.com/rand/gatsweep/internal/config"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// EncodeRequest builds the JSON document sent to an external trainer:
//
//	{"config": {<field>: <value>, ...}, "num_total_runs": runs}
func EncodeRequest(exp config.Experiment, runs int) ([]byte, error) {
	doc := []byte(`{}`)
	var err error
	for _, f := range exp.Fields() {
		doc, err = sjson.SetBytes(doc, "config."+f.Name, f.Value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", f.Name, err)
		}
	}
	if doc, err = sjson.SetBytes(doc, "num_total_runs", runs); err != nil {
		return nil, fmt.Errorf("encode num_total_runs: %w", err)
	}
	return doc, nil
}

// DecodeResult parses trainer output. Trainers often print progress before
// the result, so the last line holding a JSON object wins.
func DecodeResult(out []byte) (*Result, error) {
	doc := lastJSONLine(out)
	if doc == nil {
		return nil, ErrMalformedResult
	}

	perf := gjson.GetBytes(doc, "test_perf_at_best_val")
	if !perf.IsArray() {
		return nil, ErrMissingResult
	}

	res := &Result{TestPerfAtBestVal: floats(perf)}
	if v := gjson.GetBytes(doc, "best_val_perf"); v.IsArray() {
		res.BestValPerf = floats(v)
	}

	gjson.ParseBytes(doc).ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.Number {
			if res.Extra == nil {
				res.Extra = make(map[string]float64)
			}
			res.Extra[key.String()] = value.Float()
		}
		return true
	})

	return res, nil
}

func lastJSONLine(out []byte) []byte {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) > 0 && line[0] == '{' && gjson.ValidBytes(line) {
			return line
		}
	}
	return nil
}

func floats(arr gjson.Result) []float64 {
	items := arr.Array()
	vals := make([]float64, len(items))
	for i, item := range items {
		vals[i] = item.Float()
	}
	return vals
}
