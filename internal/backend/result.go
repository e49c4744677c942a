package backend

import "github.com/tidwall/gjson"

// Unwrap returns the object carried by an RPC result. Set-returning functions
// come back as a one-element array and scalar-returning ones as the object
// itself; both are accepted.
func Unwrap(payload []byte) gjson.Result {
	res := gjson.ParseBytes(payload)
	if res.IsArray() {
		arr := res.Array()
		if len(arr) == 0 {
			return gjson.Result{}
		}
		if len(arr) == 1 && arr[0].IsObject() {
			return arr[0]
		}
	}
	return res
}

// Rows returns the elements of an array result. An object result holding a
// single array under key is also accepted.
func Rows(payload []byte, key string) []gjson.Result {
	res := gjson.ParseBytes(payload)
	if res.IsArray() {
		arr := res.Array()
		if len(arr) == 1 && key != "" && arr[0].Get(key).IsArray() {
			return arr[0].Get(key).Array()
		}
		return arr
	}
	if key != "" {
		if inner := res.Get(key); inner.IsArray() {
			return inner.Array()
		}
	}
	return nil
}
