package renderer

// teardown releases objects in the reverse order they were registered
type teardown struct {
	releases []func()
}

func (t *teardown) push(release func()) {
	t.releases = append(t.releases, release)
}

func (t *teardown) release() {
	for i := len(t.releases) - 1; i >= 0; i-- {
		t.releases[i]()
	}
	t.releases = nil
}

func (t *teardown) empty() bool {
	return len(t.releases) == 0
}
