package kernel

// idAllocator hands out globally unique order ids for orders submitted
// without one. It is owned by the kernel and threaded through every
// construction path that needs a fresh id; there is no ambient global
// counter anywhere in the module.
type idAllocator struct {
	last uint64
}

func (a *idAllocator) next() uint64 {
	a.last++
	return a.last
}
