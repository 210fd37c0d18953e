package forum

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type threadRow struct {
	ID    string
	Depth int
}

func rows(tc []ThreadedComment) []threadRow {
	out := make([]threadRow, len(tc))
	for i, c := range tc {
		out[i] = threadRow{c.ID, c.Depth}
	}
	return out
}

func comment(id string, minute int, replyTo string) Comment {
	c := Comment{
		ID:        id,
		Timestamp: time.Date(2024, 5, 6, 10, minute, 0, 0, time.UTC),
	}
	if replyTo != "" {
		c.ReplyTo = &replyTo
	}
	return c
}

func TestThreadComments(t *testing.T) {
	tests := []struct {
		name string
		in   []Comment
		want []threadRow
	}{
		{
			name: "empty",
			in:   nil,
			want: []threadRow{},
		},
		{
			name: "roots only are chronological",
			in:   []Comment{comment("b", 2, ""), comment("a", 1, "")},
			want: []threadRow{{"a", 0}, {"b", 0}},
		},
		{
			name: "replies follow their root at any depth",
			in: []Comment{
				comment("r1", 1, ""),
				comment("r2", 2, ""),
				comment("x", 3, "r1"),
				comment("y", 4, "x"),
				comment("z", 5, "r2"),
				comment("w", 6, "r1"),
			},
			want: []threadRow{{"r1", 0}, {"x", 1}, {"y", 2}, {"w", 1}, {"r2", 0}, {"z", 1}},
		},
		{
			name: "orphans go last",
			in: []Comment{
				comment("o1", 1, "deleted"),
				comment("r", 2, ""),
				comment("o2", 3, "o1"),
			},
			want: []threadRow{{"r", 0}, {"o1", 1}, {"o2", 2}},
		},
		{
			name: "cycles do not hang",
			in: []Comment{
				comment("r", 1, ""),
				comment("a", 2, "b"),
				comment("b", 3, "a"),
				comment("s", 4, "s"),
			},
			want: []threadRow{{"r", 0}, {"a", 2}, {"b", 1}, {"s", 2}},
		},
		{
			name: "timestamp ties keep insertion order",
			in: []Comment{
				comment("r", 1, ""),
				comment("second", 5, "r"),
				comment("first", 5, "r"),
			},
			want: []threadRow{{"r", 0}, {"second", 1}, {"first", 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rows(ThreadComments(tt.in))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ThreadComments mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
