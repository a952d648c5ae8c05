package vars

var (
	AcceptAll         = "*/*"
	AcceptHtml        = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	AcceptImage       = "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8"
	AcceptEncoding    = "gzip, deflate, br, zstd"
	ContentTypeForm   = "application/x-www-form-urlencoded;charset=utf-8"
	ContentTypeJSON   = "application/json"
	ContentTypeStream = "text/event-stream; charset=utf-8"
	UserAgent         = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36 Edg/125.0.0.0"
)
