// Package s3 implements the optional remote shared cache: analysis
// result snapshots pushed to and pulled from an S3 bucket so CI workers
// and teammates share warm caches. Uploads go through CargoShip's
// optimized transporter when enabled, with a plain PutObject fallback.
package s3
