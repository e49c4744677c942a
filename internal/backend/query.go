package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Query builds a direct PostgREST read against a table or view.
type Query struct {
	client  *Client
	table   string
	columns string
	filters url.Values
	orders  []string
	limit   int
}

// From starts a query on table.
func (c *Client) From(table string) *Query {
	return &Query{client: c, table: table, columns: "*", filters: url.Values{}}
}

// Select restricts the returned columns.
func (q *Query) Select(columns string) *Query {
	if strings.TrimSpace(columns) != "" {
		q.columns = columns
	}
	return q
}

// Eq adds column = value.
func (q *Query) Eq(column string, value any) *Query {
	q.filters.Add(column, "eq."+fmt.Sprint(value))
	return q
}

// Gte adds column >= value.
func (q *Query) Gte(column string, value any) *Query {
	q.filters.Add(column, "gte."+fmt.Sprint(value))
	return q
}

// Lte adds column <= value.
func (q *Query) Lte(column string, value any) *Query {
	q.filters.Add(column, "lte."+fmt.Sprint(value))
	return q
}

// In adds column IN (values).
func (q *Query) In(column string, values ...string) *Query {
	if len(values) == 0 {
		return q
	}
	q.filters.Add(column, "in.("+strings.Join(values, ",")+")")
	return q
}

// Order sorts by column.
func (q *Query) Order(column string, desc bool) *Query {
	dir := "asc"
	if desc {
		dir = "desc"
	}
	q.orders = append(q.orders, column+"."+dir)
	return q
}

// Limit caps the number of rows.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// URL renders the request URL.
func (q *Query) URL() string {
	values := url.Values{}
	for k, v := range q.filters {
		values[k] = append([]string(nil), v...)
	}
	values.Set("select", q.columns)
	if len(q.orders) > 0 {
		values.Set("order", strings.Join(q.orders, ","))
	}
	if q.limit > 0 {
		values.Set("limit", strconv.Itoa(q.limit))
	}
	return q.client.restURL + "/" + url.PathEscape(q.table) + "?" + values.Encode()
}

// Execute runs the query under the default call timeout and returns the JSON
// array result.
func (q *Query) Execute(ctx context.Context) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, q.client.cfg.Timeout)
	defer cancel()
	start := time.Now()
	payload, err := q.client.do(callCtx, request{method: http.MethodGet, url: q.URL()})
	err = q.client.finish(ctx, callCtx, err)
	q.client.observe("select:"+q.table, err, start)
	if err != nil {
		return nil, err
	}
	return payload, nil
}
