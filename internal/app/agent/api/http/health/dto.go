package health

// Input — запрос проверки живости
type Input struct{}

// Output — ответ проверки живости
type Output struct {
	Body Response
}

// Response — состояние агента и обоих его хранилищ. Недоступность
// общего хранилища не считается деградацией: offline — штатный режим.
type Response struct {
	Status      string `json:"status" example:"OK" doc:"Overall health of the agent"`
	LocalStore  string `json:"local_store" example:"ok" doc:"Local store reachability"`
	RemoteStore string `json:"remote_store" example:"ok" doc:"Shared store reachability, unreachable while offline"`
}
