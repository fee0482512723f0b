// Package docs provides generated OpenAPI documentation.
//
// Picturebook API
//
//	@title			Picturebook API
//	@version		1.0
//	@description	Collaborative picture book editor: paginated stories whose pages are illustrated in the background.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/picturebook
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/picturebook/serve.go -o ./swagger --outputTypes go,json --parseDependency --parseInternal
