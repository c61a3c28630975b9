// Package query translates attribute-level predicates into SQL over the
// value tables. Each predicate joins the value table of its attribute's
// backend type under a distinct alias, so conditions on different attributes
// never collide. Results are lists of entity ids, hydrated through the
// entity manager and cached in the query tier.
package query

import (
	"context"
	"fmt"
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"eavstore/internal/cache"
	"eavstore/internal/core/apperror"
	"eavstore/internal/core/id"
	"eavstore/internal/eav/backend"
	"eavstore/internal/eav/entity"
	"eavstore/internal/eav/metadata"
)

// Operator is a predicate comparison.
type Operator string

const (
	OpEq      Operator = "="
	OpNeq     Operator = "!="
	OpGt      Operator = ">"
	OpGte     Operator = ">="
	OpLt      Operator = "<"
	OpLte     Operator = "<="
	OpLike    Operator = "LIKE"
	OpIn      Operator = "IN"
	OpBetween Operator = "BETWEEN"
)

// Direction orders a result set.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Executor runs the generated SQL. Implemented by the postgres adapter.
type Executor interface {
	// SelectIDs runs an id-projection query.
	SelectIDs(ctx context.Context, sql string, args []any) ([]id.ID, error)

	// SelectCount runs a count-projection query.
	SelectCount(ctx context.Context, sql string, args []any) (int64, error)
}

type predicate struct {
	attr *metadata.Attribute
	op   Operator
	// args hold the operands in storage representation.
	args []any
}

type ordering struct {
	attr   *metadata.Attribute // nil for entity-table columns
	column string              // set for entity-table columns
	dir    Direction
}

// Builder accumulates predicates and produces entities. Builders are
// single-use and not safe for concurrent mutation.
type Builder struct {
	entityType *metadata.EntityType
	strategies *backend.Set
	entities   *entity.Manager
	exec       Executor
	cache      *cache.Manager

	preds     []predicate
	orderings []ordering
	selected  []string
	limit     uint64
	offset    uint64
	hasLimit  bool

	err error
}

// NewBuilder starts a query over one entity type.
func NewBuilder(entityType *metadata.EntityType, strategies *backend.Set, entities *entity.Manager, exec Executor, cacheManager *cache.Manager) *Builder {
	return &Builder{
		entityType: entityType,
		strategies: strategies,
		entities:   entities,
		exec:       exec,
		cache:      cacheManager,
	}
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Where adds an attribute predicate. Operands are validated and transformed
// through the attribute's storage strategy up front, so a bad operand
// surfaces before any SQL runs.
func (b *Builder) Where(code string, op Operator, operand any) *Builder {
	attr := b.entityType.AttributeByCode(code)
	if attr == nil {
		return b.fail(apperror.NewValidation("unknown attribute in predicate").
			WithDetail("entity_type", b.entityType.Code).WithDetail("attribute", code))
	}
	if !attr.HasID() {
		return b.fail(apperror.NewStorage("attribute metadata missing").WithDetail("attribute", code))
	}

	args, err := b.operands(attr, op, operand)
	if err != nil {
		return b.fail(err)
	}
	b.preds = append(b.preds, predicate{attr: attr, op: op, args: args})
	return b
}

// OrderBy orders by an attribute value, or by one of the entity-table
// columns (id, created_at, updated_at). Ties always break on e.id.
func (b *Builder) OrderBy(code string, dir Direction) *Builder {
	if dir != Asc && dir != Desc {
		dir = Asc
	}
	switch code {
	case "id", "created_at", "updated_at":
		b.orderings = append(b.orderings, ordering{column: "e." + code, dir: dir})
		return b
	}
	attr := b.entityType.AttributeByCode(code)
	if attr == nil {
		return b.fail(apperror.NewValidation("unknown attribute in ordering").
			WithDetail("entity_type", b.entityType.Code).WithDetail("attribute", code))
	}
	if !attr.HasID() {
		return b.fail(apperror.NewStorage("attribute metadata missing").WithDetail("attribute", code))
	}
	b.orderings = append(b.orderings, ordering{attr: attr, dir: dir})
	return b
}

// Select narrows hydration to the given attribute codes. The entity rows and
// ids are unaffected; only the loaded value set shrinks.
func (b *Builder) Select(codes ...string) *Builder {
	for _, code := range codes {
		if b.entityType.AttributeByCode(code) == nil {
			return b.fail(apperror.NewValidation("unknown attribute in selection").
				WithDetail("entity_type", b.entityType.Code).WithDetail("attribute", code))
		}
	}
	b.selected = codes
	return b
}

// Limit caps the result size.
func (b *Builder) Limit(n uint64) *Builder {
	b.limit = n
	b.hasLimit = true
	return b
}

// Offset skips the first n results.
func (b *Builder) Offset(n uint64) *Builder {
	b.offset = n
	return b
}

// Get executes the query and returns hydrated entities in result order.
func (b *Builder) Get(ctx context.Context) ([]*entity.Entity, error) {
	if b.err != nil {
		return nil, b.err
	}

	fp := b.fingerprint("ids")
	if payload, ok := b.cache.GetQuery(ctx, b.entityType.ID, fp); ok {
		var ids []id.ID
		if err := cache.Unmarshal(payload, &ids); err == nil {
			return b.hydrate(ctx, ids)
		}
	}

	sqlStr, args, err := b.buildIDs().ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	ids, err := b.exec.SelectIDs(ctx, sqlStr, args)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}

	if payload, err := cache.Marshal(ids); err == nil {
		b.cache.SetQuery(ctx, b.entityType.ID, fp, payload)
	}
	return b.hydrate(ctx, ids)
}

// Count executes the predicate graph under a count projection. Ordering,
// limit and offset do not apply.
func (b *Builder) Count(ctx context.Context) (int64, error) {
	if b.err != nil {
		return 0, b.err
	}

	fp := b.fingerprint("count")
	if payload, ok := b.cache.GetQuery(ctx, b.entityType.ID, fp); ok {
		var count int64
		if err := cache.Unmarshal(payload, &count); err == nil {
			return count, nil
		}
	}

	sqlStr, args, err := b.buildCount().ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}
	count, err := b.exec.SelectCount(ctx, sqlStr, args)
	if err != nil {
		return 0, fmt.Errorf("execute count query: %w", err)
	}

	if payload, err := cache.Marshal(count); err == nil {
		b.cache.SetQuery(ctx, b.entityType.ID, fp, payload)
	}
	return count, nil
}

// ToSQL renders the id-projection statement without executing it.
func (b *Builder) ToSQL() (string, []any, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	return b.buildIDs().ToSql()
}

// --- SQL assembly ---

func (b *Builder) entityTable() string {
	if b.entityType.Table != "" {
		return b.entityType.Table
	}
	return "eav_entity"
}

func (b *Builder) base() sq.SelectBuilder {
	q := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select().
		From(b.entityTable() + " AS e").
		Where(sq.Eq{"e.entity_type_id": b.entityType.ID}).
		Where("e.deleted_at IS NULL")

	for i, p := range b.preds {
		alias := fmt.Sprintf("v%d", i)
		table := b.tableFor(p.attr.Backend)
		q = q.Join(
			fmt.Sprintf("%s AS %s ON %s.entity_id = e.id AND %s.attribute_id = ?", table, alias, alias, alias),
			p.attr.StorageID(),
		).Where(b.condition(alias, p))
	}
	return q
}

func (b *Builder) buildIDs() sq.SelectBuilder {
	q := b.base().Columns("e.id")

	for i, o := range b.orderings {
		if o.column != "" {
			q = q.OrderBy(o.column + " " + string(o.dir))
			continue
		}
		alias := fmt.Sprintf("o%d", i)
		table := b.tableFor(o.attr.Backend)
		// LEFT JOIN keeps entities without the ordering value in the set.
		q = q.LeftJoin(
			fmt.Sprintf("%s AS %s ON %s.entity_id = e.id AND %s.attribute_id = ?", table, alias, alias, alias),
			o.attr.StorageID(),
		).OrderBy(fmt.Sprintf("%s.value %s", alias, o.dir))
	}
	q = q.OrderBy("e.id ASC")

	if b.hasLimit {
		q = q.Limit(b.limit)
	}
	if b.offset > 0 {
		q = q.Offset(b.offset)
	}
	return q
}

func (b *Builder) buildCount() sq.SelectBuilder {
	return b.base().Columns("COUNT(*)")
}

func (b *Builder) tableFor(t backend.Type) string {
	table, err := b.strategies.TableFor(t)
	if err != nil {
		// Unknown backend types are rejected in Where; this is unreachable
		// for predicates that passed validation.
		return string(t)
	}
	return table
}

// condition renders one predicate against its join alias. Decimal and
// datetime operands travel as strings and are cast on the parameter side so
// the comparison happens in the column's native type.
func (b *Builder) condition(alias string, p predicate) sq.Sqlizer {
	column := alias + ".value"
	cast := castFor(p.attr.Backend)

	switch p.op {
	case OpIn:
		placeholders := make([]string, len(p.args))
		for i := range p.args {
			placeholders[i] = "?" + cast
		}
		return sq.Expr(fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ",")), p.args...)
	case OpBetween:
		return sq.Expr(fmt.Sprintf("%s BETWEEN ?%s AND ?%s", column, cast, cast), p.args[0], p.args[1])
	default:
		return sq.Expr(fmt.Sprintf("%s %s ?%s", column, p.op, cast), p.args[0])
	}
}

func castFor(t backend.Type) string {
	switch t {
	case backend.TypeDecimal:
		return "::numeric"
	case backend.TypeDatetime:
		return "::timestamp"
	default:
		return ""
	}
}

// operands validates and transforms the predicate operand(s) into storage
// representation.
func (b *Builder) operands(attr *metadata.Attribute, op Operator, operand any) ([]any, error) {
	strategy, err := b.strategies.ForType(attr.Backend)
	if err != nil {
		return nil, err
	}

	switch op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
		v, err := strategy.TransformForStorage(operand)
		if err != nil {
			return nil, apperror.NewValidation("invalid predicate operand").
				WithDetail("attribute", attr.Code).WithCause(err)
		}
		return []any{v}, nil

	case OpLike:
		// Patterns only make sense against text columns; other backends
		// would fail at execution with a Postgres type error.
		if attr.Backend != backend.TypeVarchar && attr.Backend != backend.TypeText {
			return nil, apperror.NewValidation("LIKE requires a text-backed attribute").
				WithDetail("attribute", attr.Code).
				WithDetail("backend_type", string(attr.Backend))
		}
		// Patterns are matched against the stored text as-is; they are not
		// values of the attribute and bypass the storage transform.
		pattern, ok := operand.(string)
		if !ok {
			return nil, apperror.NewValidation("LIKE requires a string pattern").
				WithDetail("attribute", attr.Code)
		}
		return []any{pattern}, nil

	case OpIn:
		elems, err := sliceOperands(operand)
		if err != nil {
			return nil, apperror.NewValidation(err.Error()).WithDetail("attribute", attr.Code)
		}
		out := make([]any, 0, len(elems))
		for _, elem := range elems {
			v, err := strategy.TransformForStorage(elem)
			if err != nil {
				return nil, apperror.NewValidation("invalid IN operand").
					WithDetail("attribute", attr.Code).WithCause(err)
			}
			out = append(out, v)
		}
		return out, nil

	case OpBetween:
		elems, err := sliceOperands(operand)
		if err != nil {
			return nil, apperror.NewValidation(err.Error()).WithDetail("attribute", attr.Code)
		}
		if len(elems) != 2 {
			return nil, apperror.NewValidation("BETWEEN requires exactly two operands").
				WithDetail("attribute", attr.Code)
		}
		lo, err := strategy.TransformForStorage(elems[0])
		if err != nil {
			return nil, apperror.NewValidation("invalid BETWEEN operand").
				WithDetail("attribute", attr.Code).WithCause(err)
		}
		hi, err := strategy.TransformForStorage(elems[1])
		if err != nil {
			return nil, apperror.NewValidation("invalid BETWEEN operand").
				WithDetail("attribute", attr.Code).WithCause(err)
		}
		return []any{lo, hi}, nil

	default:
		return nil, apperror.NewValidation(fmt.Sprintf("unsupported operator %q", op))
	}
}

func sliceOperands(operand any) ([]any, error) {
	if elems, ok := operand.([]any); ok {
		if len(elems) == 0 {
			return nil, fmt.Errorf("operand list is empty")
		}
		return elems, nil
	}
	rv := reflect.ValueOf(operand)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("operator requires a list operand")
	}
	if rv.Len() == 0 {
		return nil, fmt.Errorf("operand list is empty")
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// --- hydration and caching ---

func (b *Builder) hydrate(ctx context.Context, ids []id.ID) ([]*entity.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	attrs := b.entityType.Attributes
	if len(b.selected) > 0 {
		attrs = make([]*metadata.Attribute, 0, len(b.selected))
		for _, code := range b.selected {
			if attr := b.entityType.AttributeByCode(code); attr != nil {
				attrs = append(attrs, attr)
			}
		}
	}

	loaded, err := b.entities.LoadMultipleWithAttrs(ctx, b.entityType, ids, attrs)
	if err != nil {
		return nil, err
	}

	byID := make(map[id.ID]*entity.Entity, len(loaded))
	for _, e := range loaded {
		byID[e.ID] = e
	}
	ordered := make([]*entity.Entity, 0, len(loaded))
	for _, entityID := range ids {
		if e, ok := byID[entityID]; ok {
			ordered = append(ordered, e)
		}
	}
	return ordered, nil
}

// fingerprint folds the full query shape into a stable 64-bit key. Two
// builders producing the same SQL and operands share a cache slot.
func (b *Builder) fingerprint(projection string) uint64 {
	h := fnv.New64a()
	write := func(parts ...string) {
		for _, part := range parts {
			h.Write([]byte(part))
			h.Write([]byte{0})
		}
	}

	write(projection, fmt.Sprintf("%d", b.entityType.ID))
	for _, p := range b.preds {
		write("w", p.attr.Code, string(p.op))
		for _, arg := range p.args {
			write(fmt.Sprint(arg))
		}
	}
	for _, o := range b.orderings {
		code := o.column
		if o.attr != nil {
			code = o.attr.Code
		}
		write("o", code, string(o.dir))
	}
	if len(b.selected) > 0 {
		codes := append([]string(nil), b.selected...)
		sort.Strings(codes)
		write("c", strings.Join(codes, ","))
	}
	if b.hasLimit {
		write("l", fmt.Sprintf("%d", b.limit))
	}
	if b.offset > 0 {
		write("s", fmt.Sprintf("%d", b.offset))
	}
	return h.Sum64()
}
