package util

import "sync"

// DoWorkList runs work on every item concurrently and returns the results in
// input order.
func DoWorkList[T any, R any](list []T, work func(T) R) []R {
	results := make([]R, len(list))
	switch len(list) {
	case 0:
		return results
	case 1:
		results[0] = work(list[0])
		return results
	}

	var wg sync.WaitGroup
	for i, item := range list {
		wg.Add(1)
		go func(index int, value T) {
			defer wg.Done()
			results[index] = work(value)
		}(i, item)
	}

	wg.Wait()
	return results
}
