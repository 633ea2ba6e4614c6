package worker

import (
	"log"
	"time"
)

// RecoveryTask 补单任务：把一条渠道侧成功支付重放进对账器
type RecoveryTask struct {
	Provider   string
	ExternalID string
	Retry      int // 重试次数
}

// ProcessFunc 任务处理函数，由补单服务注入
type ProcessFunc func(task RecoveryTask) error

type WorkerPool struct {
	TaskQueue  chan RecoveryTask
	RetryQueue chan RecoveryTask // 重试队列
	Process    ProcessFunc
	WorkerNum  int
	MaxRetry   int // 最大重试次数
}

func NewWorkerPool(process ProcessFunc, workerNum int, bufferSize int) *WorkerPool {
	return &WorkerPool{
		TaskQueue:  make(chan RecoveryTask, bufferSize),
		RetryQueue: make(chan RecoveryTask, bufferSize/2),
		Process:    process,
		WorkerNum:  workerNum,
		MaxRetry:   3, // 最多重试3次
	}
}

func (p *WorkerPool) Start() {
	for i := 0; i < p.WorkerNum; i++ {
		go p.worker(i)
	}
	// 启动重试处理协程
	go p.retryWorker()
	log.Printf("Recovery worker pool started with %d workers", p.WorkerNum)
}

func (p *WorkerPool) worker(id int) {
	for task := range p.TaskQueue {
		if err := p.Process(task); err != nil {
			log.Printf("[Worker %d] Failed to process recovery task (Provider: %s, ExternalID: %s): %v",
				id, task.Provider, task.ExternalID, err)

			// 如果未达到最大重试次数，加入重试队列
			if task.Retry < p.MaxRetry {
				task.Retry++
				select {
				case p.RetryQueue <- task:
					log.Printf("[Worker %d] Task added to retry queue (attempt %d/%d)",
						id, task.Retry, p.MaxRetry)
				default:
					log.Printf("[Worker %d] Retry queue full, task dropped: %+v", id, task)
					p.logFailedTask(task, err)
				}
			} else {
				log.Printf("[Worker %d] Task exceeded max retries, dropped: %+v", id, task)
				p.logFailedTask(task, err)
			}
		}
	}
}

func (p *WorkerPool) retryWorker() {
	for task := range p.RetryQueue {
		// 延迟重试，避免立即重试
		time.Sleep(time.Duration(task.Retry) * time.Second)

		// 重新加入主队列
		select {
		case p.TaskQueue <- task:
			log.Printf("[RetryWorker] Task re-queued (attempt %d/%d)", task.Retry, p.MaxRetry)
		default:
			log.Printf("[RetryWorker] Main queue full, task dropped: %+v", task)
			p.logFailedTask(task, nil)
		}
	}
}

func (p *WorkerPool) logFailedTask(task RecoveryTask, err error) {
	// 任务彻底失败只记日志；孤儿支付不会丢——下一轮窗口扫描还会找到它
	log.Printf("[DeadLetter] Recovery task failed permanently: Provider=%s, ExternalID=%s, Error=%v",
		task.Provider, task.ExternalID, err)
}

func (p *WorkerPool) AddTask(task RecoveryTask) {
	select {
	case p.TaskQueue <- task:
		// 任务入队成功
	default:
		log.Printf("Recovery worker pool queue full, dropping task: %+v", task)
		p.logFailedTask(task, nil)
	}
}
