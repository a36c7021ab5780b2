package metrics

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lib/pq"
)

type Logger interface {
	Log(info *MetricsInfo)
}

type StdoutLogger struct{}

func NewStdoutLogger() *StdoutLogger {
	return &StdoutLogger{}
}

func (l *StdoutLogger) Log(info *MetricsInfo) {
	infoStr, err := info.ToJSON()
	if err == nil {
		log.Print(infoStr)
	} else {
		log.Printf("StdoutLogger: error: %v", err)
	}
}

const defaultQueueSize = 2000
const defaultMaxLogFileSize = 1024 * 1024 * 1024
const defaultMaxLogFiles = 10
const logFileName = "metrics.log"

// FileLogger appends JSON lines to LogDir/metrics.log. When the file
// reaches MaxLogFileSize it is renamed metrics.log.1, older files are
// shifted up and the one beyond MaxLogFiles is dropped.
type FileLogger struct {
	MetricsQueue   chan *MetricsInfo
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int
	Verbose        bool

	done chan struct{}
}

func NewFileLogger(logDir string, maxLogFileSize int64, maxLogFiles int, verbose bool) *FileLogger {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	logger := &FileLogger{
		MetricsQueue:   make(chan *MetricsInfo, defaultQueueSize),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		Verbose:        verbose,
		done:           make(chan struct{}),
	}

	go logger.startLogWriter()
	return logger
}

func (l *FileLogger) Log(info *MetricsInfo) {
	l.MetricsQueue <- info
}

// Close flushes the queue. Log must not be called afterwards.
func (l *FileLogger) Close() {
	close(l.MetricsQueue)
	<-l.done
}

func (l *FileLogger) logFilePath(idx int) string {
	if idx == 0 {
		return filepath.Join(l.LogDir, logFileName)
	}
	return filepath.Join(l.LogDir, fmt.Sprintf("%s.%d", logFileName, idx))
}

func (l *FileLogger) startLogWriter() {
	defer close(l.done)

	f, err := os.OpenFile(l.logFilePath(0), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("FileLogger: log open error: %v", err)
	}

	for info := range l.MetricsQueue {
		infoStr, err := info.ToJSON()
		if err != nil {
			log.Printf("FileLogger: info.ToJSON() error: %v", err)
			continue
		}

		if f == nil {
			if f, err = os.OpenFile(l.logFilePath(0), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err != nil {
				log.Printf("FileLogger: log open error: %v", err)
				continue
			}
		}

		if _, err = f.WriteString(infoStr); err != nil {
			log.Printf("FileLogger: write error: %v", err)
			continue
		}
		f.Sync()

		f = l.tryRotateLogFile(f)
	}

	if f != nil {
		f.Close()
	}
}

func (l *FileLogger) tryRotateLogFile(f *os.File) *os.File {
	info, err := f.Stat()
	if err != nil {
		log.Printf("FileLogger: log rotation error: %v", err)
		return f
	}
	if info.Size() < l.MaxLogFileSize {
		return f
	}

	f.Close()
	os.Remove(l.logFilePath(l.MaxLogFiles))
	for idx := l.MaxLogFiles - 1; idx >= 0; idx-- {
		if _, err := os.Stat(l.logFilePath(idx)); err == nil {
			if err = os.Rename(l.logFilePath(idx), l.logFilePath(idx+1)); err != nil {
				log.Printf("FileLogger: log rotation error: %v", err)
			}
		}
	}
	if l.Verbose {
		log.Printf("FileLogger: log file rotated: %v", l.logFilePath(1))
	}

	f, err = os.OpenFile(l.logFilePath(0), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("FileLogger: log open error: %v", err)
		return nil
	}
	return f
}

// PostgresLogger inserts each request as a jsonb row. Writes happen on
// a background goroutine so requests never wait for the database.
type PostgresLogger struct {
	MetricsQueue chan *MetricsInfo
	Table        string
	Verbose      bool

	db   *sql.DB
	stmt *sql.Stmt
	wg   sync.WaitGroup
}

func NewPostgresLogger(dsn string, table string, verbose bool) (*PostgresLogger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)

	quoted := pq.QuoteIdentifier(table)
	_, err = db.Exec(fmt.Sprintf(`create table if not exists %s (
		id bigserial primary key,
		logged_at timestamptz not null default now(),
		info jsonb not null
	)`, quoted))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("PostgresLogger: failed to create table %s: %v", table, err)
	}

	stmt, err := db.Prepare(fmt.Sprintf("insert into %s (logged_at, info) values ($1, $2)", quoted))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("PostgresLogger: failed to prepare insert: %v", err)
	}

	logger := &PostgresLogger{
		MetricsQueue: make(chan *MetricsInfo, defaultQueueSize),
		Table:        table,
		Verbose:      verbose,
		db:           db,
		stmt:         stmt,
	}
	logger.wg.Add(1)
	go logger.startLogWriter()
	return logger, nil
}

func (l *PostgresLogger) Log(info *MetricsInfo) {
	select {
	case l.MetricsQueue <- info:
	default:
		log.Printf("PostgresLogger: queue is full, dropping metrics for %s", info.URL.RawURL)
	}
}

func (l *PostgresLogger) startLogWriter() {
	defer l.wg.Done()
	for info := range l.MetricsQueue {
		infoStr, err := info.ToJSON()
		if err != nil {
			log.Printf("PostgresLogger: info.ToJSON() error: %v", err)
			continue
		}

		loggedAt := time.Now()
		if t, err := time.Parse(time.RFC3339, info.ReqTime); err == nil {
			loggedAt = t
		}
		if _, err = l.stmt.Exec(loggedAt, infoStr); err != nil {
			log.Printf("PostgresLogger: insert error: %v", err)
		} else if l.Verbose {
			log.Printf("PostgresLogger: logged %s", info.URL.RawURL)
		}
	}
}

func (l *PostgresLogger) Close() {
	close(l.MetricsQueue)
	l.wg.Wait()
	l.stmt.Close()
	l.db.Close()
}
