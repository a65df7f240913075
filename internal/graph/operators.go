package graph

// Chain composes l and r serially: every task in l becomes an
// input of every task in r (a complete bipartite fan-out x fan-in). No
// deduplication is performed — chaining the same pair twice doubles the
// edge. Chain returns r so chains can be threaded: Chain(Chain(a, b), c).
func Chain(l, r Composable) Composable {
	ls, rs := l.tasks(), r.tasks()
	for _, a := range ls {
		for _, b := range rs {
			a.Outputs = append(a.Outputs, b)
			b.Inputs = append(b.Inputs, a)
		}
	}
	return r
}

// Bundle composes l and r in parallel: it returns a new Group
// whose members are tasks(l) followed by tasks(r). No edges are modified.
func Bundle(l, r Composable) *Group {
	members := make([]*Task, 0, len(l.tasks())+len(r.tasks()))
	members = append(members, l.tasks()...)
	members = append(members, r.tasks()...)
	return &Group{members: members}
}
