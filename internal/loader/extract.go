package loader

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/covid-loader/internal/model"
	"github.com/sells-group/covid-loader/internal/store"
)

// extraction turns one classified row into facts.
type extraction struct {
	r     *run
	st    State
	row   Row
	rowNo int
	id    identity
	vec   vector
}

func (x *extraction) run(ctx context.Context) error {
	switch x.st.group {
	case GroupAge, GroupAgeSex, GroupAgeOther:
		return x.age(ctx)
	case GroupSex, GroupSexOther:
		return x.sex(ctx)
	case GroupHospital:
		return x.hospital(ctx)
	case GroupNone:
		return x.none(ctx)
	default:
		return x.bug()
	}
}

func (x *extraction) age(ctx context.Context) error {
	for _, c := range x.row.Columns() {
		if strings.HasPrefix(c, "age_") && c != "age_range" {
			if err := x.emit(ctx, x.row.Get(c), c, false, lit("age"), col("age_range"), lit(c[len("age_"):])); err != nil {
				return err
			}
		}
	}

	switch x.st.group {
	case GroupAge:
		return x.firstRowSimple(ctx)
	case GroupAgeSex:
		for _, c := range x.row.Columns() {
			if strings.HasPrefix(c, "sex_") {
				if err := x.emit(ctx, x.row.Get(c), c, false, lit("age"), col("age_range"), col("sex"), lit(c[len("sex_"):])); err != nil {
					return err
				}
			}
		}
		return x.firstRowSimple(ctx, lit("age"), col("age_range"))
	case GroupAgeOther:
		return x.withOther(ctx, lit("age"), col("age_range"))
	default:
		return x.bug()
	}
}

func (x *extraction) sex(ctx context.Context) error {
	for _, c := range x.row.Columns() {
		if strings.HasPrefix(c, "sex_") {
			if err := x.emit(ctx, x.row.Get(c), c, false, lit("sex"), col("sex"), lit(c[len("sex_"):])); err != nil {
				return err
			}
		}
	}

	switch x.st.group {
	case GroupSex:
		return x.firstRowSimple(ctx)
	case GroupSexOther:
		return x.withOther(ctx, lit("sex"), col("sex"))
	default:
		return x.bug()
	}
}

// hospital stores the facility metric named by "other". Simple attributes
// are expected to be empty or repeated within a facility.
func (x *extraction) hospital(ctx context.Context) error {
	if x.row.Has("other_value") {
		if err := x.emit(ctx, x.row.Get("other_value"), "other_value", false, col("other")); err != nil {
			return err
		}
	}
	if x.st.groupRow > 0 {
		x.check()
	}
	return nil
}

func (x *extraction) none(ctx context.Context) error {
	switch {
	case x.row.Has("other") && x.row.Has("other_value"):
		if isNumeric(x.row.Get("other_value")) {
			return x.emit(ctx, x.row.Get("other_value"), "other", true, col("other"))
		}
		return x.eachSimple(ctx, col("other"), col("other_value"))
	case x.row.Has("other"):
		x.r.warn(x.rowNo, "'other' set while 'other_value' is empty")
		return nil
	default:
		return x.eachSimple(ctx)
	}
}

// firstRowSimple stores the simple attributes on the first row of a group,
// prefixed by prefix, and checks them for repetition on later rows.
func (x *extraction) firstRowSimple(ctx context.Context, prefix ...namePart) error {
	if x.st.groupRow > 0 {
		x.check()
		return nil
	}
	return x.eachSimple(ctx, prefix...)
}

// withOther handles the age.other and sex.other groups. A numeric
// other_value is the measurement of the metric named by "other"; any other
// other_value, or none, qualifies the simple attributes instead.
func (x *extraction) withOther(ctx context.Context, prefix ...namePart) error {
	ov := x.row.Get("other_value")
	switch {
	case ov != "" && isNumeric(ov):
		if x.st.groupRow == 0 {
			if err := x.eachSimple(ctx); err != nil {
				return err
			}
		} else {
			x.check()
		}
		return x.emit(ctx, ov, "other_value", false, append(prefix, col("other"))...)
	case ov != "":
		return x.eachSimple(ctx, append(prefix, col("other"), col("other_value"))...)
	default:
		return x.eachSimple(ctx, append(prefix, col("other"))...)
	}
}

// eachSimple stores every populated simple attribute under prefix + name,
// with the percent check.
func (x *extraction) eachSimple(ctx context.Context, prefix ...namePart) error {
	for _, a := range SimpleAttrs {
		if !x.row.Has(a) {
			continue
		}
		parts := append(append([]namePart{}, prefix...), lit(a))
		if err := x.emit(ctx, x.row.Get(a), a, true, parts...); err != nil {
			return err
		}
	}
	return nil
}

// emit synthesizes the attribute key, registers it and appends the fact.
func (x *extraction) emit(ctx context.Context, value, column string, checkPercent bool, parts ...namePart) error {
	key, badPercent := synthesizeName(x.row, checkPercent, parts...)
	if badPercent {
		x.r.warn(x.rowNo, "'percent' is neither yes nor empty", zap.String("percent", x.row.Get("percent")))
	}
	if strings.Trim(key, "_") == "" {
		x.r.warn(x.rowNo, "empty attribute name, value skipped", zap.String("column", column))
		return nil
	}

	if err := x.r.ensureAttribute(ctx, x.st.dataset, key, x.rowNo); err != nil {
		return err
	}

	err := x.r.l.store.AppendFact(ctx, model.Fact{
		ScrapeID:  x.id.scrapeID,
		GeoUnitID: x.id.geoUnitID,
		ValidTime: x.id.vtime,
		Attr:      key,
		Value:     value,
		CSVRow:    x.rowNo,
		CSVCol:    column,
	})
	if errors.Is(err, store.ErrConflict) {
		x.r.warn(x.rowNo, "fact rejected by store", zap.String("attr", key), zap.String("value", value), zap.Error(err))
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "loader: append fact %s at row %d", key, x.rowNo)
	}
	x.r.sum.FactsWritten++
	return nil
}

// check compares the row's simple vector with the previous row's and logs a
// mismatch. It never fails the row.
func (x *extraction) check() {
	if sameIgnoringEmpty(x.vec, x.st.prevVector) {
		return
	}
	x.r.sum.Mismatches++
	x.r.log.Warn("non-repeating simple attribute in group",
		zap.Int("row", x.rowNo),
		zap.String("reason", "mismatch"),
		zap.Stringer("group", x.st.group),
		zap.Strings("prev", x.st.prevVector),
		zap.Strings("curr", x.vec),
	)
}

func (x *extraction) bug() error {
	x.r.log.Error("BUG: unknown group", zap.Int("row", x.rowNo), zap.Stringer("group", x.st.group))
	return &UnknownGroupError{File: x.r.file, Row: x.rowNo, Group: x.st.group}
}

// isNumeric reports whether s parses as a number. It decides whether
// other_value is a measurement or a qualifier.
func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
