package main

import (
	"errors"
	"strconv"

	"github.com/cryptalk/go-cryptalk-server/global"
	"github.com/cryptalk/go-cryptalk-server/repository"
	"github.com/cryptalk/go-cryptalk-server/services"
	"github.com/cryptalk/go-cryptalk-server/types"
)

// Configure DB Repositories and create DB Selector
func ConfigDBSelector() repository.DBSelector {
	// configure Repository (couchDB)
	repoUrl := global.Conf.CouchDB.Scheme + "://" + global.Conf.CouchDB.Host + ":" + strconv.Itoa(global.Conf.CouchDB.Port)
	publicKeyRepo, pkErr := repository.NewCouchDBRepository(repoUrl, repository.PublicKeys, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	conversationRepo, cErr := repository.NewCouchDBRepository(repoUrl, repository.Conversations, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	messageRepo, mErr := repository.NewCouchDBRepository(repoUrl, repository.Messages, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	nonceRepo, nErr := repository.NewCouchDBRepository(repoUrl, repository.Nonce, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)

	repoErr := errors.Join(pkErr, cErr, mErr, nErr)
	if repoErr != nil {
		global.Logger.Log("error", "Failed to create repositories", "error", repoErr.Error())
		panic(repoErr)
	}

	// REPOSITORY definitions
	dbSelector := repository.NewCouchDBSelector()
	dbSelector.AddDB(publicKeyRepo)
	dbSelector.AddDB(conversationRepo)
	dbSelector.AddDB(messageRepo)
	dbSelector.AddDB(nonceRepo)

	return dbSelector
}

func ConfigDBIndexing(dbSelector *repository.CouchDBSelector, environment *types.Environment) {
	// CREATE REQUIRED SERVICES
	nonceService := services.NewNonceService(dbSelector)

	// Create INDEXES
	conversationRepo, cErr := dbSelector.ChooseDB(repository.Conversations)
	if cErr != nil {
		panic(cErr)
	}
	messageRepo, mErr := dbSelector.ChooseDB(repository.Messages)
	if mErr != nil {
		panic(mErr)
	}

	if err := repository.CreateConversationParticipantIndex(conversationRepo); err != nil {
		panic(err)
	}
	if err := repository.CreateMessageConversationIndex(messageRepo); err != nil {
		panic(err)
	}

	// Create DESIGN DOCUMENTS
	// create a design document to return all documents older than N minutes
	repository.CreateDesign_DeleteExpiredRecordsByCreatedDate(repository.Nonce, "nonce", "old")

	// cron jobs
	environment.Cron.AddFunc("@every 5m", nonceService.RemoveExpiredNonces) // remove expired challenges every 5 minutes
	environment.Cron.Start()
	go nonceService.RemoveExpiredNonces() // run once on startup
}
