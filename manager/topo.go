package manager

// topoOrderLocked computes a start order with Kahn's algorithm: in-degree
// counts plus a worklist of zero-in-degree nodes, seeded in registration
// order for determinism. A complete ordering with fewer nodes than
// registered services signals a cycle; no partial ordering is ever returned.
//
// Callers must hold m.mu (read or write).
func (m *Manager) topoOrderLocked() ([]string, error) {
	inDegree := make(map[string]int, len(m.records))
	for name := range m.records {
		inDegree[name] = 0
	}
	for name, rec := range m.records {
		for d := range rec.deps {
			if _, known := m.records[d]; known {
				inDegree[name]++
			}
		}
	}

	queue := make([]string, 0, len(m.records))
	for _, name := range m.regOrder {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	order := make([]string, 0, len(m.records))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for dependent := range m.records[current].dependents {
			if _, known := inDegree[dependent]; !known {
				continue
			}
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(m.records) {
		return nil, ErrDependencyCycle
	}
	return order, nil
}
