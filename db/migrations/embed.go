// Package migrations 只负责嵌入 SQL 文件，执行逻辑在 internal/migrations。
package migrations

import "embed"

// UpFiles 按文件名排序即为执行顺序：0001 附件元数据，0002 bytea 存储。
//
//go:embed *.up.sql
var UpFiles embed.FS
