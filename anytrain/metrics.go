package anytrain

import (
	"log/slog"

	"github.com/fountaindream/VCFL-plus/anyloss"
	"github.com/fountaindream/VCFL-plus/anytriplet"
)

// A metric is a per-step scalar with a recorder name and a
// short log field name.
type metric struct {
	Name  string
	Field string
}

// metrics lists every scalar in log order.
var metrics = []metric{
	{"tri_precision/global_precision", "gp"},
	{"satisfy_margin/global_satisfy_margin", "gm"},
	{"global_dist/global_dist_ap", "gd_ap"},
	{"global_dist/global_dist_an", "gd_an"},
	{"loss/global_loss", "gL"},
	{"tri_precision/local_precision", "lp"},
	{"satisfy_margin/local_satisfy_margin", "lm"},
	{"local_dist/local_dist_ap", "ld_ap"},
	{"local_dist/local_dist_an", "ld_an"},
	{"loss/local_loss", "lL"},
	{"loss/id_loss", "idL"},
	{"loss/sift_loss", "sL"},
	{"loss/c_loss", "cL"},
	{"loss/view_loss", "viewL"},
	{"loss/loss", "loss"},
}

var lossNames = map[anyloss.Kind]string{
	anyloss.Global:      "loss/global_loss",
	anyloss.Local:       "loss/local_loss",
	anyloss.ID:          "loss/id_loss",
	anyloss.VisualWords: "loss/sift_loss",
	anyloss.Centroid:    "loss/c_loss",
	anyloss.View:        "loss/view_loss",
}

// stepScalars flattens the results of a step into named
// scalars.
// Terms that were not computed are absent.
func stepScalars(agg *anyloss.Aggregate, global, local *anytriplet.Result) map[string]float64 {
	res := map[string]float64{}
	for _, k := range anyloss.Kinds() {
		if x, ok := agg.Value(k).Scalar(); ok {
			res[lossNames[k]] = x
		}
	}
	res["loss/loss"] = anyloss.Scalar(agg.Total)
	for prefix, r := range map[string]*anytriplet.Result{"global": global, "local": local} {
		if r == nil {
			continue
		}
		res["tri_precision/"+prefix+"_precision"] = r.Precision()
		res["satisfy_margin/"+prefix+"_satisfy_margin"] = r.SatisfyMargin()
		res[prefix+"_dist/"+prefix+"_dist_ap"] = r.MeanAP()
		res[prefix+"_dist/"+prefix+"_dist_an"] = r.MeanAN()
	}
	return res
}

// meterSet accumulates named scalars over an epoch.
type meterSet map[string]*Meter

func (m meterSet) Update(scalars map[string]float64) {
	for name, x := range scalars {
		if m[name] == nil {
			m[name] = &Meter{}
		}
		m[name].Update(x)
	}
}

// Averages returns the average of every scalar.
func (m meterSet) Averages() map[string]float64 {
	res := map[string]float64{}
	for name, meter := range m {
		res[name] = meter.Avg()
	}
	return res
}

// Latest returns the last value of every scalar.
func (m meterSet) Latest() map[string]float64 {
	res := map[string]float64{}
	for name, meter := range m {
		res[name] = meter.Val
	}
	return res
}

// logAttrs converts scalars into log attributes in a fixed
// order, skipping absent scalars.
func logAttrs(scalars map[string]float64) []slog.Attr {
	var res []slog.Attr
	for _, m := range metrics {
		if x, ok := scalars[m.Name]; ok {
			res = append(res, slog.Float64(m.Field, x))
		}
	}
	return res
}
