package forum

import "sort"

// ThreadComments orders comments for display. Root comments come in
// chronological order, each followed by every reply in its thread
// (chronological, at any depth). Replies whose chain never reaches a root,
// because an ancestor was deleted, are appended last.
func ThreadComments(comments []Comment) []ThreadedComment {
	byID := make(map[string]*Comment, len(comments))
	for i := range comments {
		byID[comments[i].ID] = &comments[i]
	}

	// root and depth of each comment, resolved by walking replyTo links.
	// A cycle or a missing ancestor leaves root empty.
	type placement struct {
		root  string
		depth int
	}
	placed := make(map[string]placement, len(comments))
	var resolve func(c *Comment, seen map[string]bool) placement
	resolve = func(c *Comment, seen map[string]bool) placement {
		if p, ok := placed[c.ID]; ok {
			return p
		}
		if c.ReplyTo == nil || *c.ReplyTo == "" {
			p := placement{root: c.ID}
			placed[c.ID] = p
			return p
		}
		parent, ok := byID[*c.ReplyTo]
		if !ok || seen[parent.ID] {
			p := placement{depth: 1}
			placed[c.ID] = p
			return p
		}
		seen[c.ID] = true
		pp := resolve(parent, seen)
		p := placement{root: pp.root, depth: pp.depth + 1}
		placed[c.ID] = p
		return p
	}
	for i := range comments {
		resolve(&comments[i], map[string]bool{})
	}

	order := make([]int, len(comments))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return comments[order[a]].Timestamp.Before(comments[order[b]].Timestamp)
	})

	var roots []string
	threads := make(map[string][]int)
	var orphans []int
	for _, i := range order {
		c := comments[i]
		p := placed[c.ID]
		switch {
		case p.root == c.ID:
			roots = append(roots, c.ID)
		case p.root == "":
			orphans = append(orphans, i)
		default:
			threads[p.root] = append(threads[p.root], i)
		}
	}

	out := make([]ThreadedComment, 0, len(comments))
	for _, root := range roots {
		out = append(out, ThreadedComment{Comment: *byID[root]})
		for _, i := range threads[root] {
			out = append(out, ThreadedComment{Comment: comments[i], Depth: placed[comments[i].ID].depth})
		}
	}
	for _, i := range orphans {
		out = append(out, ThreadedComment{Comment: comments[i], Depth: placed[comments[i].ID].depth})
	}
	return out
}
