package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/query"
)

// DefaultSampleLimit caps SampleRows when no limit is given.
const DefaultSampleLimit = 5

// builtQuery is a rendered statement with positional arguments.
type builtQuery struct {
	SQL  string
	Args []any
}

func quoteIdent(name string) (string, error) {
	if !query.ValidIdentifier(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return "`" + name + "`", nil
}

func tableRef(src *models.Source) (string, error) {
	table, err := quoteIdent(src.Table)
	if err != nil {
		return "", err
	}
	if src.Database == "" {
		return table, nil
	}
	db, err := quoteIdent(src.Database)
	if err != nil {
		return "", err
	}
	return db + "." + table, nil
}

// column resolves a field name through the source's field set.
func column(fields map[string]query.FieldDef, name string) (string, error) {
	name = strings.TrimSpace(name)
	if f, ok := fields[name]; ok {
		return quoteIdent(f.Column)
	}
	if len(fields) <= 1 {
		// Sources without declared fields accept any plain identifier.
		return quoteIdent(name)
	}
	return "", fmt.Errorf("unknown field %q", name)
}

func aggregate(fields map[string]query.FieldDef, s models.Series) (string, error) {
	if s.AggFn == models.AggCount || s.AggFn == "" {
		return "toFloat64(count())", nil
	}
	col, err := column(fields, s.Field)
	if err != nil {
		return "", fmt.Errorf("aggregate %s: %w", s.AggFn, err)
	}

	switch s.AggFn {
	case models.AggCountDistinct:
		return fmt.Sprintf("toFloat64(uniqExact(%s))", col), nil
	case models.AggSum:
		return fmt.Sprintf("toFloat64(sum(%s))", col), nil
	case models.AggAvg:
		return fmt.Sprintf("toFloat64(avg(%s))", col), nil
	case models.AggMin:
		return fmt.Sprintf("toFloat64(min(%s))", col), nil
	case models.AggMax:
		return fmt.Sprintf("toFloat64(max(%s))", col), nil
	case models.AggP50:
		return fmt.Sprintf("toFloat64(quantile(0.5)(%s))", col), nil
	case models.AggP90:
		return fmt.Sprintf("toFloat64(quantile(0.9)(%s))", col), nil
	case models.AggP95:
		return fmt.Sprintf("toFloat64(quantile(0.95)(%s))", col), nil
	case models.AggP99:
		return fmt.Sprintf("toFloat64(quantile(0.99)(%s))", col), nil
	default:
		return "", fmt.Errorf("unsupported aggregation %q", s.AggFn)
	}
}

// groupExpr renders "k:v, k2:v2" labels for a comma-separated group-by list.
func groupExpr(fields map[string]query.FieldDef, groupBy string) (string, error) {
	var parts []string
	for _, key := range strings.Split(groupBy, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		col, err := column(fields, key)
		if err != nil {
			return "", fmt.Errorf("group by: %w", err)
		}
		if len(parts) > 0 {
			parts = append(parts, "', '")
		}
		parts = append(parts, "'"+key+":'", "toString("+col+")")
	}
	if len(parts) == 0 {
		return "", nil
	}
	return "concat(" + strings.Join(parts, ", ") + ")", nil
}

// buildSeriesQuery renders both the single-window and granular bucket shapes;
// a single window is a granularity equal to End-Start.
func buildSeriesQuery(q *SeriesQuery) (*builtQuery, error) {
	if q.Source == nil {
		return nil, fmt.Errorf("series query requires a source")
	}
	if !q.End.After(q.Start) {
		return nil, fmt.Errorf("empty time range [%s, %s)", q.Start, q.End)
	}
	step := int64(q.Granularity / time.Second)
	if step <= 0 {
		return nil, fmt.Errorf("granularity must be at least one second")
	}

	fields := query.FieldsFromSource(q.Source)
	table, err := tableRef(q.Source)
	if err != nil {
		return nil, err
	}
	ts, err := quoteIdent(q.Source.TimestampColumn)
	if err != nil {
		return nil, err
	}
	agg, err := aggregate(fields, q.Series)
	if err != nil {
		return nil, err
	}
	where, err := query.Compile(q.Series.Where, fields)
	if err != nil {
		return nil, fmt.Errorf("series filter: %w", err)
	}
	group, err := groupExpr(fields, q.GroupBy)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	args := []any{q.Start.Unix(), q.End.Unix()}

	fmt.Fprintf(&sb, "SELECT toStartOfInterval(%s, INTERVAL %d SECOND) AS bucket, %s AS value", ts, step, agg)
	if group != "" {
		fmt.Fprintf(&sb, ", %s AS grp", group)
	} else {
		sb.WriteString(", '' AS grp")
	}
	fmt.Fprintf(&sb, " FROM %s WHERE %s >= fromUnixTimestamp(?) AND %s < fromUnixTimestamp(?)", table, ts, ts)
	fmt.Fprintf(&sb, " AND (%s)", where.SQL)
	args = append(args, where.Args...)

	if group != "" {
		sb.WriteString(" GROUP BY bucket, grp ORDER BY bucket, grp")
	} else {
		sb.WriteString(" GROUP BY bucket ORDER BY bucket")
		if q.Fill {
			fmt.Fprintf(&sb, " WITH FILL FROM toStartOfInterval(fromUnixTimestamp(?), INTERVAL %d SECOND) TO fromUnixTimestamp(?) STEP %d", step, step)
			args = append(args, q.Start.Unix(), q.End.Unix())
		}
	}

	return &builtQuery{SQL: sb.String(), Args: args}, nil
}

func buildSampleQuery(q *SampleQuery) (*builtQuery, error) {
	if q.Source == nil {
		return nil, fmt.Errorf("sample query requires a source")
	}
	fields := query.FieldsFromSource(q.Source)
	table, err := tableRef(q.Source)
	if err != nil {
		return nil, err
	}
	ts, err := quoteIdent(q.Source.TimestampColumn)
	if err != nil {
		return nil, err
	}
	where, err := query.Compile(q.Where, fields)
	if err != nil {
		return nil, fmt.Errorf("sample filter: %w", err)
	}

	selectList := q.Select
	if strings.TrimSpace(selectList) == "" {
		selectList = q.Source.DefaultSelect
	}
	var cols []string
	for _, name := range strings.Split(selectList, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		col, err := column(fields, name)
		if err != nil {
			return nil, fmt.Errorf("sample select: %w", err)
		}
		cols = append(cols, "toString("+col+")")
	}
	if len(cols) == 0 {
		cols = []string{"toString(" + ts + ")"}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSampleLimit
	}

	sql := fmt.Sprintf(
		"SELECT concatWithSeparator(' ', %s) AS line FROM %s WHERE %s >= fromUnixTimestamp(?) AND %s < fromUnixTimestamp(?) AND (%s) ORDER BY %s DESC LIMIT %d",
		strings.Join(cols, ", "), table, ts, ts, where.SQL, ts, limit,
	)
	args := append([]any{q.Start.Unix(), q.End.Unix()}, where.Args...)
	return &builtQuery{SQL: sql, Args: args}, nil
}
