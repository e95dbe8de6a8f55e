package domain

import "strconv"

func atoiKey(key string) (int, error) {
	return strconv.Atoi(key)
}
