package browser

import (
	"encoding/json"
	"fmt"
)

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		// json.Marshal never fails for strings.
		panic(err)
	}
	return string(b)
}

func queryTextScript(selector string) string {
	return fmt.Sprintf(
		`Array.from(document.querySelectorAll(%s), (el) => el.textContent ?? "")`,
		jsString(selector),
	)
}

func queryAttributeScript(selector, name string) string {
	return fmt.Sprintf(
		`(() => { const el = document.querySelector(%s); return el ? el.getAttribute(%s) : null; })()`,
		jsString(selector), jsString(name),
	)
}

func queryAttributeAllScript(selector, name string) string {
	return fmt.Sprintf(
		`Array.from(document.querySelectorAll(%s)).map((el) => el.getAttribute(%s)).filter((v) => v !== null)`,
		jsString(selector), jsString(name),
	)
}
