package postgres

import (
	"strconv"
	"strings"

	"github.com/couchcryptid/locations/internal/domain"
)

const selectTopics = `SELECT t.id, t.title, t.category_id, t.closed, t.bumped_at,
       l.location, COALESCE(l.has_geo_location, FALSE)
FROM topics t
LEFT JOIN topic_locations l ON l.topic_id = t.id`

// renderTopicQuery turns q into a SELECT with numbered placeholders.
func renderTopicQuery(q domain.TopicQuery) (string, []any) {
	var b strings.Builder
	var args []any
	b.WriteString(selectTopics)

	for i, c := range q.Conditions() {
		if i == 0 {
			b.WriteString("\nWHERE ")
		} else {
			b.WriteString("\n  AND ")
		}
		b.WriteString("(")
		b.WriteString(numberPlaceholders(c.SQL, len(args)))
		b.WriteString(")")
		args = append(args, c.Args...)
	}

	b.WriteString("\nORDER BY t.bumped_at DESC, t.id DESC")
	if q.Limit() > 0 {
		args = append(args, q.Limit())
		b.WriteString("\nLIMIT $" + strconv.Itoa(len(args)))
	}
	if q.Offset() > 0 {
		args = append(args, q.Offset())
		b.WriteString("\nOFFSET $" + strconv.Itoa(len(args)))
	}
	return b.String(), args
}

// numberPlaceholders rewrites each `?` as $n, continuing after offset.
func numberPlaceholders(sql string, offset int) string {
	var b strings.Builder
	n := offset
	for _, r := range sql {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
