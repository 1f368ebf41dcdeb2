package config

type Config struct {
	MongoURI    string
	MongoDBName string
}
