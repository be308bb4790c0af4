package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/gophdrop/internal/flagx"
)

var allowedFlags = []string{
	"-a", "-R", "-d", "-r", "-W", "-N", "-s",
	"-u", "-p", "-b", "-g", "-e", "-path-style", "-k", "-o",
	"-T", "-t", "-D", "-i", "-B", "-A", "-J", "-q", "-L", "-F",
}

var boolFlags = []string{"-path-style"}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     gRPC bind address (e.g., ":50051")
//	-R string     registry backend: memory, postgres, redis
//	-d string     PostgreSQL DSN
//	-r string     Redis address
//	-W string     Redis password
//	-N int        Redis database number
//	-s string     JWT HMAC secret key
//	-u string     S3 root user
//	-p string     S3 root password
//	-b string     S3 bucket name
//	-g string     S3 region
//	-e string     S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-path-style   use path-style S3 addressing
//	-k string     object key prefix
//	-o string     public base URL of descriptors
//	-T duration   session TTL
//	-t duration   presigned part URL TTL
//	-D duration   presigned download URL TTL
//	-i duration   reaper interval
//	-B int        reaper claim batch size
//	-A duration   age after which unknown store uploads are aborted
//	-J int        run the store janitor every N reaper sweeps
//	-q string     SQS queue URL for completion events
//	-L string     log level
//	-F string     log format: json or text
//
// Durations use Go syntax ("2h", "90s").
func parseFlags(config *Config) {
	args := flagx.FilterArgsWithBools(os.Args[1:], allowedFlags, boolFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.Registry, "R", config.Registry, "session registry backend")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.StringVar(&config.RedisPassword, "W", config.RedisPassword, "redis password")
	fs.IntVar(&config.RedisDB, "N", config.RedisDB, "redis database")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.BoolVar(&config.S3UsePathStyle, "path-style", config.S3UsePathStyle, "S3 path-style addressing")
	fs.StringVar(&config.S3KeyPrefix, "k", config.S3KeyPrefix, "object key prefix")
	fs.StringVar(&config.PublicBaseURL, "o", config.PublicBaseURL, "public base URL")

	fs.DurationVar(&config.SessionTTL, "T", config.SessionTTL, "session TTL")
	fs.DurationVar(&config.PartURLTTL, "t", config.PartURLTTL, "part URL TTL")
	fs.DurationVar(&config.DownloadURLTTL, "D", config.DownloadURLTTL, "download URL TTL")
	fs.DurationVar(&config.ReaperInterval, "i", config.ReaperInterval, "reaper interval")
	fs.IntVar(&config.ReaperBatchSize, "B", config.ReaperBatchSize, "reaper batch size")
	fs.DurationVar(&config.StaleUploadAge, "A", config.StaleUploadAge, "stale store upload age")
	fs.IntVar(&config.JanitorEvery, "J", config.JanitorEvery, "janitor every N sweeps")
	fs.StringVar(&config.NotifyQueueURL, "q", config.NotifyQueueURL, "SQS queue URL")
	fs.StringVar(&config.LogLevel, "L", config.LogLevel, "log level")
	fs.StringVar(&config.LogFormat, "F", config.LogFormat, "log format")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
