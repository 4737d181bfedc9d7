package templock

import "strconv"

// Key layout:
//
//	count:<len(item)>:<item>:<category>  attempt counter
//	counter:<item>                       category set
//	lock:<item>                          lock flag
//
// The item length in counter keys keeps ("a:b", "c") and ("a", "b:c") apart.
// The other two keys end with the item, so they cannot collide.

func countKey(item, category string) string {
	return "count:" + strconv.Itoa(len(item)) + ":" + item + ":" + category
}

func categorySetKey(item string) string {
	return "counter:" + item
}

func lockKey(item string) string {
	return "lock:" + item
}

// normalizeCategories copies categories, drops empty and duplicate labels,
// and makes sure MainCategory is present. Order of first occurrence is kept.
func normalizeCategories(categories []string) []string {
	out := make([]string, 0, len(categories)+1)
	seen := make(map[string]struct{}, len(categories)+1)
	for _, c := range categories {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if _, ok := seen[MainCategory]; !ok {
		out = append(out, MainCategory)
	}
	return out
}
