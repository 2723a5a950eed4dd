package blobstore

import (
	"context"
)

// FindLatest returns the object under prefix with the greatest creation
// time. Equal creation times are broken by the lexically greatest name, so
// the result does not depend on listing order.
func FindLatest(ctx context.Context, c Container, prefix string) (ObjectInfo, error) {
	objects, err := c.List(ctx, prefix)
	if err != nil {
		return ObjectInfo{}, err
	}

	var latest ObjectInfo
	found := false
	for _, obj := range objects {
		if !found || newer(obj, latest) {
			latest = obj
			found = true
		}
	}
	if !found {
		return ObjectInfo{}, &NotFoundError{Prefix: prefix}
	}
	return latest, nil
}

func newer(a, b ObjectInfo) bool {
	if !a.Created.Equal(b.Created) {
		return a.Created.After(b.Created)
	}
	return a.Name > b.Name
}
