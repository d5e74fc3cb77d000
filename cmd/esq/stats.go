package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
)

// writeStats prints one line per verb and role from the executor
// collectors in reg.
func writeStats(w io.Writer, reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gathering stats: %w", err)
	}

	type row struct {
		count  uint64
		sum    float64
		errors float64
	}
	rows := make(map[[2]string]*row)
	var order [][2]string
	get := func(key [2]string) *row {
		r, ok := rows[key]
		if !ok {
			r = &row{}
			rows[key] = r
			order = append(order, key)
		}
		return r
	}

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var key [2]string
			for _, l := range m.GetLabel() {
				switch l.GetName() {
				case "verb":
					key[0] = l.GetValue()
				case "role":
					key[1] = l.GetValue()
				}
			}
			switch mf.GetName() {
			case "esquery_request_duration_seconds":
				r := get(key)
				r.count = m.GetHistogram().GetSampleCount()
				r.sum = m.GetHistogram().GetSampleSum()
			case "esquery_request_errors_total":
				get(key).errors = m.GetCounter().GetValue()
			}
		}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERB\tROLE\tREQUESTS\tERRORS\tTOTAL_MS")
	for _, key := range order {
		r := rows[key]
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", key[0], key[1], r.count,
			strconv.FormatFloat(r.errors, 'f', -1, 64),
			strconv.FormatFloat(r.sum*1000, 'f', 1, 64))
	}
	return tw.Flush()
}
