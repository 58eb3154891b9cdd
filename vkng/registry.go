package vkng

// registry hands out renderer handles for vkngwrapper objects
type registry[H ~uint64, T any] struct {
	next    H
	objects map[H]T
}

func newRegistry[H ~uint64, T any]() *registry[H, T] {
	return &registry[H, T]{objects: make(map[H]T)}
}

func (r *registry[H, T]) add(object T) H {
	r.next++
	r.objects[r.next] = object
	return r.next
}

func (r *registry[H, T]) get(handle H) (T, bool) {
	object, ok := r.objects[handle]
	return object, ok
}

func (r *registry[H, T]) remove(handle H) (T, bool) {
	object, ok := r.objects[handle]
	delete(r.objects, handle)
	return object, ok
}
