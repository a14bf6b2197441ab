package sitetheory

import "sort"

// Plan resolves the site's resources into creation order: every resource
// appears after everything it requires. Teardown walks the same plan in
// reverse.
func (d *Definition) Plan() ([]Resource, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return Order(d.Resources())
}

// Order topologically sorts resources by their Requires edges. Ties are
// broken by resource ID so the order is stable across runs.
func Order(resources []Resource) ([]Resource, error) {
	byID := make(map[string]Resource, len(resources))
	for _, res := range resources {
		if _, dup := byID[res.ID()]; dup {
			return nil, invalidResource(res.ID(), "duplicate resource id")
		}
		byID[res.ID()] = res
	}

	indegree := make(map[string]int, len(resources))
	dependents := make(map[string][]string, len(resources))
	for _, res := range resources {
		indegree[res.ID()] += 0
		for _, dep := range res.Requires() {
			if _, ok := byID[dep]; !ok {
				return nil, invalidResource(res.ID(), "requires unknown resource %q", dep)
			}
			indegree[res.ID()]++
			dependents[dep] = append(dependents[dep], res.ID())
		}
	}

	ready := make([]string, 0, len(resources))
	for id, degree := range indegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	ordered := make([]Resource, 0, len(resources))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byID[id])

		next := dependents[id]
		sort.Strings(next)
		for _, dependent := range next {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = insertSorted(ready, dependent)
			}
		}
	}

	if len(ordered) != len(resources) {
		remaining := make([]string, 0, len(resources)-len(ordered))
		for id, degree := range indegree {
			if degree > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return nil, &DeployError{
			Code:     ErrorCodeGraphCycle,
			Message:  "resource dependencies form a cycle",
			Resource: remaining[0],
		}
	}

	return ordered, nil
}

func insertSorted(ids []string, id string) []string {
	at := sort.SearchStrings(ids, id)
	ids = append(ids, "")
	copy(ids[at+1:], ids[at:])
	ids[at] = id
	return ids
}
