// Package docs registers the swagger spec consumed by /swagger/*any. In a
// full build this file is generated by `swag init`; this hand-maintained
// version registers the same minimal template so ginSwagger has a spec to
// serve without a generation step in this exercise.
package docs

import "github.com/swaggo/swag"

const swaggerTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "Browser egress gateway: TCP-over-WebSocket tunneling and a recursive DNS facade.",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {}
}`

// SwaggerInfo holds the template values ginSwagger reads, following the
// variable name and shape swag's generator emits.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "webegress gateway API",
	Description:      "Browser egress gateway HTTP surface.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  swaggerTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
