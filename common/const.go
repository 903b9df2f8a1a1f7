// Copyright 2025 The respd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

const (
	// App 应用程序名称
	App = "respd"

	// Version 应用程序版本 同时作为 INFO server 段落上报的版本号
	Version = "0.1.0"

	// ReadWriteBlockSize 单次 socket 读取的字节数上限
	//
	// RESP 请求不保证在单个 TCP 包中完整到达 读取仅负责搬运字节
	// 拼帧的工作交给 resp 解析器 所以这里选择一个适中的块大小即可
	ReadWriteBlockSize = 4096
)
