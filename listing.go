package main

import (
	"encoding/base64"
	"slices"
	"strings"
)

// listQuery holds the ListObjectsV2 parameters that shape a page.
type listQuery struct {
	Delimiter  string
	Prefix     string
	StartAfter string
	MaxKeys    int
}

// listPage is one page of a listing. Objects and CommonPrefixes together hold
// at most MaxKeys entries.
type listPage struct {
	Objects        []ObjectInfo
	CommonPrefixes []string
	IsTruncated    bool
	NextKey        string
}

func (p *listPage) len() int {
	return len(p.Objects) + len(p.CommonPrefixes)
}

// paginate sorts objects by key and cuts the page that follows q.StartAfter.
// Keys that contain q.Delimiter after q.Prefix are folded into a common
// prefix, and every key folded into one prefix counts once.
func paginate(objects []ObjectInfo, q listQuery) listPage {
	var page listPage
	if q.MaxKeys <= 0 {
		return page
	}

	slices.SortFunc(objects, func(a, b ObjectInfo) int {
		return strings.Compare(a.Key, b.Key)
	})
	if q.StartAfter != "" {
		i, found := slices.BinarySearchFunc(objects, q.StartAfter, func(o ObjectInfo, key string) int {
			return strings.Compare(o.Key, key)
		})
		if found {
			i++
		}
		objects = objects[i:]
	}

	seen := make(map[string]bool)
	last := ""
	for _, obj := range objects {
		prefix := commonPrefix(obj.Key, q.Prefix, q.Delimiter)
		if prefix != "" && seen[prefix] {
			last = obj.Key
			continue
		}
		if page.len() >= q.MaxKeys {
			page.IsTruncated = true
			page.NextKey = last
			break
		}
		if prefix != "" {
			seen[prefix] = true
			page.CommonPrefixes = append(page.CommonPrefixes, prefix)
		} else {
			page.Objects = append(page.Objects, obj)
		}
		last = obj.Key
	}
	return page
}

// commonPrefix returns the prefix key rolls up into, or "" when key is listed
// on its own.
func commonPrefix(key, prefix, delimiter string) string {
	if delimiter == "" {
		return ""
	}
	rest := strings.TrimPrefix(key, prefix)
	i := strings.Index(rest, delimiter)
	if i < 0 {
		return ""
	}
	return prefix + rest[:i+len(delimiter)]
}

// Continuation tokens are the base64-encoded last key of the previous page.
func encodeToken(key string) string {
	if key == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(key))
}

func decodeToken(token string) (string, bool) {
	key, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", false
	}
	return string(key), true
}
