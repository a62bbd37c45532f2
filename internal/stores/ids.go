package stores

// addID returns a new slice holding ids followed by the values not already present
func addID(ids []string, values ...string) []string {
	out := copyStrings(ids)
	for _, v := range values {
		if !containsID(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// removeID returns a new slice without any occurrence of v
func removeID(ids []string, v string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != v {
			out = append(out, id)
		}
	}
	return out
}

func containsID(ids []string, v string) bool {
	for _, id := range ids {
		if id == v {
			return true
		}
	}
	return false
}

func copyStrings(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
