// internal/observer/interfaces.go
package observer

// Observer 接收下载进度的通知。
// bytesRead 是目标文件当前已落盘的累计字节数，而不是增量；
// 服务器不支持续传而从零重新下载时，它可能变小。
// 返回错误会中止当前下载，已写入的数据保持不变。
type Observer interface {
	Update(bytesRead int64) error
}

// Func 把普通函数适配为 Observer。
type Func func(bytesRead int64) error

// Update 实现了 Observer 接口
func (f Func) Update(bytesRead int64) error {
	return f(bytesRead)
}

// Nop 忽略所有通知。
var Nop Observer = Func(func(int64) error { return nil })
