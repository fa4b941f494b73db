// Package autoload blank-imports every LLM provider package so their
// init() registration with the provider registry runs as a side effect of
// importing this package, without main.go needing to know the concrete
// provider list.
package autoload

import (
	_ "hybridcore/pkg/llm/gemini"
	_ "hybridcore/pkg/llm/ollama"
	_ "hybridcore/pkg/llm/openailm"
)
